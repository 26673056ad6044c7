package credbroker

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/prsentry/prsentry/internal/apperrors"
)

func testPEM(t *testing.T, pkcs8 bool) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var der []byte
	blockType := "RSA PRIVATE KEY"
	if pkcs8 {
		der, err = x509.MarshalPKCS8PrivateKey(key)
		blockType = "PRIVATE KEY"
	} else {
		der = x509.MarshalPKCS1PrivateKey(key)
	}
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}

func TestNewAcceptsPKCS1AndPKCS8(t *testing.T) {
	if _, err := New(1, testPEM(t, false), "", zaptest.NewLogger(t).Sugar()); err != nil {
		t.Errorf("PKCS1 key rejected: %v", err)
	}
	if _, err := New(1, testPEM(t, true), "", zaptest.NewLogger(t).Sugar()); err != nil {
		t.Errorf("PKCS8 key rejected: %v", err)
	}
}

func TestNewRejectsMalformedPEM(t *testing.T) {
	if _, err := New(1, "not a pem", "", zaptest.NewLogger(t).Sugar()); err == nil {
		t.Error("expected an error for malformed PEM input")
	}
}

func TestNewDefaultsBaseURL(t *testing.T) {
	b, err := New(1, testPEM(t, false), "", zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.BaseURL() != defaultBaseURL {
		t.Errorf("expected default base URL, got %q", b.BaseURL())
	}
}

func TestTokenForInstallationMintsAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"token":"tok-abc","expires_at":"2099-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	b, err := New(1, testPEM(t, false), srv.URL, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		tok, err := b.TokenForInstallation(context.Background(), 42)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "tok-abc" {
			t.Errorf("unexpected token: %s", tok)
		}
	}
	if calls != 1 {
		t.Errorf("expected the cached token to avoid re-minting, got %d upstream calls", calls)
	}

	stats := b.Stats()
	if stats.CachedInstallations != 1 {
		t.Errorf("expected one cached installation, got %d", stats.CachedInstallations)
	}
}

func TestTokenForInstallationSurfacesCredentialDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"not authorized"}`))
	}))
	defer srv.Close()

	b, err := New(1, testPEM(t, false), srv.URL, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = b.TokenForInstallation(context.Background(), 1)
	if err == nil {
		t.Fatal("expected an error")
	}
	if apperrors.CodeOf(err) != apperrors.CredentialDenied {
		t.Errorf("expected CredentialDenied, got %v", apperrors.CodeOf(err))
	}
}

func TestTokenForInstallationSurfacesUpstreamTransientOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b, err := New(1, testPEM(t, false), srv.URL, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = b.TokenForInstallation(context.Background(), 1)
	if err == nil {
		t.Fatal("expected an error")
	}
	if apperrors.CodeOf(err) != apperrors.UpstreamTransient {
		t.Errorf("expected UpstreamTransient, got %v", apperrors.CodeOf(err))
	}
}
