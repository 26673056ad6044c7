package installsync

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/prsentry/prsentry/internal/apperrors"
	"github.com/prsentry/prsentry/internal/ghclient"
	"github.com/prsentry/prsentry/internal/store"
)

type fakeGHClient struct {
	orgPages    [][]ghclient.Member
	orgErr      error
	publicPages [][]ghclient.Member
}

func (f *fakeGHClient) ListOrgMembers(ctx context.Context, installationID int64, org string, page int) ([]ghclient.Member, error) {
	if f.orgErr != nil {
		return nil, f.orgErr
	}
	if page-1 >= len(f.orgPages) {
		return nil, nil
	}
	return f.orgPages[page-1], nil
}

func (f *fakeGHClient) ListPublicMembers(ctx context.Context, installationID int64, org string, page int) ([]ghclient.Member, error) {
	if page-1 >= len(f.publicPages) {
		return nil, nil
	}
	return f.publicPages[page-1], nil
}

type fakeUserRepo struct {
	store.UserRepository
	byUsername   map[string]*store.User
	installed    map[string][]int64
	lookupErrors map[string]error
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*store.User, error) {
	if err, ok := f.lookupErrors[username]; ok {
		return nil, err
	}
	u, ok := f.byUsername[username]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "user not found")
	}
	return u, nil
}

func (f *fakeUserRepo) AddInstallation(ctx context.Context, userID string, installationID int64) error {
	f.installed[userID] = append(f.installed[userID], installationID)
	return nil
}

func TestReconcileLinksMatchingMembers(t *testing.T) {
	gh := &fakeGHClient{orgPages: [][]ghclient.Member{
		{{Login: "alice"}, {Login: "bob"}},
	}}
	users := &fakeUserRepo{
		byUsername: map[string]*store.User{"alice": {ID: "user-1"}},
		installed:  map[string][]int64{},
	}
	syncer := New(gh, users, zaptest.NewLogger(t).Sugar())

	result := syncer.Reconcile(context.Background(), 99, "acme")

	if result.Updated != 1 {
		t.Errorf("expected 1 update, got %d (errors: %v)", result.Updated, result.Errors)
	}
	if got := users.installed["user-1"]; len(got) != 1 || got[0] != 99 {
		t.Errorf("expected user-1 linked to installation 99, got %v", got)
	}
}

func TestReconcileFallsBackToPublicMembersOn403(t *testing.T) {
	gh := &fakeGHClient{
		orgErr:      apperrors.New(apperrors.UpstreamPermanent, "upstream error: 403 Forbidden"),
		publicPages: [][]ghclient.Member{{{Login: "carol"}}},
	}
	users := &fakeUserRepo{
		byUsername: map[string]*store.User{"carol": {ID: "user-2"}},
		installed:  map[string][]int64{},
	}
	syncer := New(gh, users, zaptest.NewLogger(t).Sugar())

	result := syncer.Reconcile(context.Background(), 1, "acme")

	if result.Updated != 1 {
		t.Fatalf("expected fallback to public members to find carol, got %+v", result)
	}
}

func TestReconcileSkipsUnknownUsersWithoutError(t *testing.T) {
	gh := &fakeGHClient{orgPages: [][]ghclient.Member{{{Login: "ghost"}}}}
	users := &fakeUserRepo{byUsername: map[string]*store.User{}, installed: map[string][]int64{}}
	syncer := New(gh, users, zaptest.NewLogger(t).Sugar())

	result := syncer.Reconcile(context.Background(), 1, "acme")

	if result.Updated != 0 || len(result.Errors) != 0 {
		t.Errorf("expected a silent no-op for an unmatched member, got %+v", result)
	}
}
