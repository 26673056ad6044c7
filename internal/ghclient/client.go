// Package ghclient is the installation-scoped REST surface against the
// upstream platform, built on top of a credbroker.Broker for auth.
package ghclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prsentry/prsentry/internal/apperrors"
)

// TokenSource is the subset of credbroker.Broker this client depends
// on, so tests can substitute a fake without standing up RSA keys.
type TokenSource interface {
	TokenForInstallation(ctx context.Context, installationID int64) (string, error)
	BaseURL() string
}

const maxGetRetries = 3

// Client is a thin installation-scoped wrapper over the platform REST
// API.
type Client struct {
	tokens     TokenSource
	httpClient *http.Client
}

func New(tokens TokenSource) *Client {
	return &Client{tokens: tokens, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// PR is the subset of pull-request fields the Summary Worker needs.
type PR struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	State      string `json:"state"`
	Merged     bool   `json:"merged"`
	HTMLURL    string `json:"html_url"`
	User       struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// PRFile is one entry of the changed-files listing, patch included —
// the patch is only ever used transiently for analysis, never
// persisted as-is (see internal/store.FileChangeRecord).
type PRFile struct {
	Filename  string `json:"filename"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// Repo is one entry of an installation's accessible-repositories list.
type Repo struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

// Installation is the upstream installation record.
type Installation struct {
	ID      int64 `json:"id"`
	Account struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"account"`
}

// GetPR fetches a single pull request.
func (c *Client) GetPR(ctx context.Context, installationID int64, ownerRepo string, number int) (*PR, error) {
	var pr PR
	path := fmt.Sprintf("/repos/%s/pulls/%d", ownerRepo, number)
	if err := c.getJSON(ctx, installationID, path, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// ListPRFiles fetches up to 100 changed files for a pull request.
func (c *Client) ListPRFiles(ctx context.Context, installationID int64, ownerRepo string, number int) ([]PRFile, error) {
	var files []PRFile
	path := fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=100", ownerRepo, number)
	if err := c.getJSON(ctx, installationID, path, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ListReposAccessibleToInstallation lists repositories the installation
// can see.
func (c *Client) ListReposAccessibleToInstallation(ctx context.Context, installationID int64) ([]Repo, error) {
	var result struct {
		Repositories []Repo `json:"repositories"`
	}
	if err := c.getJSON(ctx, installationID, "/installation/repositories?per_page=100", &result); err != nil {
		return nil, err
	}
	return result.Repositories, nil
}

// ListOrgMembers lists an organization's members, one page.
func (c *Client) ListOrgMembers(ctx context.Context, installationID int64, org string, page int) ([]Member, error) {
	var members []Member
	path := fmt.Sprintf("/orgs/%s/members?per_page=100&page=%d", org, page)
	if err := c.getJSON(ctx, installationID, path, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// ListPublicMembers is the fallback when ListOrgMembers is forbidden
// (the installation can't see private membership).
func (c *Client) ListPublicMembers(ctx context.Context, installationID int64, org string, page int) ([]Member, error) {
	var members []Member
	path := fmt.Sprintf("/orgs/%s/public_members?per_page=100&page=%d", org, page)
	if err := c.getJSON(ctx, installationID, path, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Member is one organization member entry.
type Member struct {
	Login string `json:"login"`
}

// GetInstallation fetches the installation record itself.
func (c *Client) GetInstallation(ctx context.Context, installationID int64) (*Installation, error) {
	var inst Installation
	path := fmt.Sprintf("/app/installations/%d", installationID)
	if err := c.getJSON(ctx, installationID, path, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// getJSON performs an authenticated GET, retrying idempotent calls on
// 5xx with capped exponential backoff, and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, installationID int64, path string, out any) error {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 1; attempt <= maxGetRetries; attempt++ {
		resp, err := c.do(ctx, installationID, http.MethodGet, path, nil)
		if err != nil {
			lastErr = err
			if apperrors.CodeOf(err) != apperrors.UpstreamTransient {
				return err
			}
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = apperrors.Wrap(apperrors.UpstreamTransient, readErr)
			} else if resp.StatusCode >= 500 {
				lastErr = apperrors.New(apperrors.UpstreamTransient, fmt.Sprintf("%s %d: %s", path, resp.StatusCode, body))
			} else if resp.StatusCode == http.StatusForbidden {
				return apperrors.New(apperrors.UpstreamPermanent, fmt.Sprintf("%s 403: %s", path, body))
			} else if resp.StatusCode >= 400 {
				return apperrors.New(apperrors.UpstreamPermanent, fmt.Sprintf("%s %d: %s", path, resp.StatusCode, body))
			} else {
				return json.Unmarshal(body, out)
			}
		}

		if attempt < maxGetRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, installationID int64, method, path string, body io.Reader) (*http.Response, error) {
	token, err := c.tokens.TokenForInstallation(ctx, installationID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.tokens.BaseURL()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "prsentry")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamTransient, err)
	}
	return resp, nil
}
