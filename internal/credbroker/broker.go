// Package credbroker mints the three kinds of credentials the service
// needs against the upstream platform's GitHub-App-style auth model: a
// short-lived App JWT, a cached per-installation access token, and (in
// internal/ghclient) an installation-scoped REST client built on top of
// them.
package credbroker

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prsentry/prsentry/internal/apperrors"
)

const (
	defaultBaseURL    = "https://api.github.com"
	maxTokenTTL       = 55 * time.Minute
	tokenExpiryBuffer = 60 * time.Second
)

type cachedToken struct {
	token   string
	expires time.Time
}

// Broker mints App JWTs and caches installation access tokens, keyed by
// installation id, refreshing on expiry. Concurrent refreshes for the
// same installation coalesce into a single outstanding request via
// singleflight rather than a hand-rolled keyed-mutex map.
type Broker struct {
	appID   int64
	key     *rsa.PrivateKey
	baseURL string
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	tokens   map[int64]*cachedToken
	lastMint map[int64]time.Time

	sf singleflight.Group

	httpClient *http.Client
}

// New creates a Broker from a PEM-encoded RSA private key (PKCS1 or
// PKCS8). baseURL overrides the platform API root; pass "" for the
// default.
func New(appID int64, pemData, baseURL string, logger *zap.SugaredLogger) (*Broker, error) {
	key, err := parsePrivateKey([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Broker{
		appID:      appID,
		key:        key,
		baseURL:    baseURL,
		logger:     logger,
		tokens:     make(map[int64]*cachedToken),
		lastMint:   make(map[int64]time.Time),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// BaseURL returns the platform API root this broker talks to, for
// internal/ghclient to build request paths against.
func (b *Broker) BaseURL() string { return b.baseURL }

// TokenForInstallation returns a valid installation access token,
// refreshing through the coalesced single-flight path when the cached
// token is absent or within tokenExpiryBuffer of expiry.
func (b *Broker) TokenForInstallation(ctx context.Context, installationID int64) (string, error) {
	if tok, ok := b.cachedToken(installationID); ok {
		return tok, nil
	}

	key := fmt.Sprintf("%d", installationID)
	v, err, _ := b.sf.Do(key, func() (any, error) {
		// Re-check under the single-flight key: another caller may have
		// refreshed while we were waiting to enter Do.
		if tok, ok := b.cachedToken(installationID); ok {
			return tok, nil
		}

		jwt, err := b.signJWT()
		if err != nil {
			return nil, fmt.Errorf("sign JWT: %w", err)
		}

		token, expires, err := b.exchangeToken(ctx, jwt, installationID)
		if err != nil {
			return nil, err
		}

		ttl := time.Until(expires) - tokenExpiryBuffer
		if ttl > maxTokenTTL {
			ttl = maxTokenTTL
		}

		b.mu.Lock()
		b.tokens[installationID] = &cachedToken{token: token, expires: time.Now().Add(ttl)}
		b.lastMint[installationID] = time.Now()
		b.mu.Unlock()

		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Broker) cachedToken(installationID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ct, ok := b.tokens[installationID]
	if !ok || time.Now().After(ct.expires) {
		return "", false
	}
	return ct.token, true
}

// signJWT creates an RS256-signed App JWT, regenerated on every call —
// it's cheap and never cached beyond a single outbound request.
func (b *Broker) signJWT() (string, error) {
	now := time.Now()
	header := base64URLEncode([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := base64URLEncode(fmt.Appendf(nil,
		`{"iss":%d,"iat":%d,"exp":%d}`,
		b.appID, now.Add(-60*time.Second).Unix(), now.Add(10*time.Minute).Unix(),
	))

	sigInput := header + "." + payload
	h := sha256.Sum256([]byte(sigInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, b.key, crypto.SHA256, h[:])
	if err != nil {
		return "", err
	}
	return sigInput + "." + base64URLEncode(sig), nil
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (b *Broker) exchangeToken(ctx context.Context, jwt string, installationID int64) (string, time.Time, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", b.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "prsentry")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, apperrors.Wrap(apperrors.UpstreamTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, apperrors.Wrap(apperrors.UpstreamTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusCreated:
	case resp.StatusCode >= 500:
		return "", time.Time{}, apperrors.New(apperrors.UpstreamTransient, fmt.Sprintf("token mint %d: %s", resp.StatusCode, body))
	default:
		return "", time.Time{}, apperrors.New(apperrors.CredentialDenied, fmt.Sprintf("token mint %d: %s", resp.StatusCode, body))
	}

	var result installationTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", time.Time{}, apperrors.Wrap(apperrors.CredentialDenied, fmt.Errorf("parse token response: %w", err))
	}
	return result.Token, result.ExpiresAt, nil
}

// Stats reports cache occupancy and last-mint time per installation,
// for the /health handler's broker component.
type Stats struct {
	CachedInstallations int
	LastMintAt          map[int64]time.Time
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	lastMint := make(map[int64]time.Time, len(b.lastMint))
	for id, t := range b.lastMint {
		lastMint[id] = t
	}
	return Stats{CachedInstallations: len(b.tokens), LastMintAt: lastMint}
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse as PKCS1 or PKCS8: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PKCS8 key is not RSA")
	}
	return rsaKey, nil
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
