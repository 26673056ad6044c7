package webhook

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/prsentry/prsentry/internal/ghclient"
	"github.com/prsentry/prsentry/internal/installsync"
	"github.com/prsentry/prsentry/internal/store"
)

type emptyGHClient struct{}

func (emptyGHClient) ListOrgMembers(ctx context.Context, installationID int64, org string, page int) ([]ghclient.Member, error) {
	return nil, nil
}

func (emptyGHClient) ListPublicMembers(ctx context.Context, installationID int64, org string, page int) ([]ghclient.Member, error) {
	return nil, nil
}

type fakeInstallations struct {
	store.InstallationRepository
	byID      map[int64]*store.Installation
	created   []*store.Installation
	suspended []int64
	appended  map[int64][]store.RepoRef
	removed   map[int64][]string
}

func newFakeInstallations() *fakeInstallations {
	return &fakeInstallations{
		byID:     map[int64]*store.Installation{},
		appended: map[int64][]store.RepoRef{},
		removed:  map[int64][]string{},
	}
}

func (f *fakeInstallations) GetByInstallationID(ctx context.Context, installationID int64) (*store.Installation, error) {
	inst, ok := f.byID[installationID]
	if !ok {
		return nil, nil
	}
	return inst, nil
}

func (f *fakeInstallations) Create(ctx context.Context, inst *store.Installation) error {
	f.created = append(f.created, inst)
	f.byID[inst.InstallationID] = inst
	return nil
}

func (f *fakeInstallations) AppendRepositories(ctx context.Context, installationID int64, repos []store.RepoRef) error {
	f.appended[installationID] = append(f.appended[installationID], repos...)
	return nil
}

func (f *fakeInstallations) RemoveRepositories(ctx context.Context, installationID int64, repoIDs []string) error {
	f.removed[installationID] = append(f.removed[installationID], repoIDs...)
	return nil
}

func (f *fakeInstallations) MarkSuspended(ctx context.Context, installationID int64) error {
	f.suspended = append(f.suspended, installationID)
	return nil
}

type fakeUsers struct {
	store.UserRepository
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*store.User, error) {
	return nil, nil
}

func newDispatcherForEventTests(t *testing.T, installations store.InstallationRepository, users store.UserRepository) *Dispatcher {
	return NewDispatcher(installations, users, nil, nil, nil, nil, zaptest.NewLogger(t).Sugar())
}

func TestDispatchInstallationCreatedSkipsExisting(t *testing.T) {
	installations := newFakeInstallations()
	installations.byID[42] = &store.Installation{InstallationID: 42}
	d := NewDispatcher(installations, &fakeUsers{}, nil, nil, nil, nil, zaptest.NewLogger(t).Sugar())

	err := d.Dispatch(context.Background(), "installation", Envelope{
		Action:       "created",
		Installation: &installation{ID: 42},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(installations.created) != 0 {
		t.Errorf("expected no new Create call for an existing installation, got %d", len(installations.created))
	}
}

func TestDispatchInstallationCreatedForOrganization(t *testing.T) {
	installations := newFakeInstallations()
	syncer := installsync.New(emptyGHClient{}, &fakeUsers{}, zaptest.NewLogger(t).Sugar())
	d := NewDispatcher(installations, &fakeUsers{}, nil, nil, nil, syncer, zaptest.NewLogger(t).Sugar())

	env := Envelope{
		Action: "created",
		Installation: &installation{
			ID: 7,
			Account: struct {
				Login     string `json:"login"`
				Type      string `json:"type"`
				AvatarURL string `json:"avatar_url"`
			}{Login: "acme", Type: "Organization", AvatarURL: "https://example.com/a.png"},
		},
	}

	if err := d.Dispatch(context.Background(), "installation", env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(installations.created) != 1 {
		t.Fatalf("expected exactly one Create call, got %d", len(installations.created))
	}
	got := installations.created[0]
	if got.AccountType != string(store.AccountTypeOrganization) || got.AccountLogin != "acme" {
		t.Errorf("unexpected installation row: %+v", got)
	}
}

func TestDispatchInstallationDeletedMarksSuspended(t *testing.T) {
	installations := newFakeInstallations()
	d := NewDispatcher(installations, &fakeUsers{}, nil, nil, nil, nil, zaptest.NewLogger(t).Sugar())

	err := d.Dispatch(context.Background(), "installation", Envelope{
		Action:       "deleted",
		Installation: &installation{ID: 9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(installations.suspended) != 1 || installations.suspended[0] != 9 {
		t.Errorf("expected installation 9 to be marked suspended, got %v", installations.suspended)
	}
}

func TestDispatchInstallationRepositoriesAddedAndRemoved(t *testing.T) {
	installations := newFakeInstallations()
	d := NewDispatcher(installations, &fakeUsers{}, nil, nil, nil, nil, zaptest.NewLogger(t).Sugar())
	inst := &installation{ID: 5}

	err := d.Dispatch(context.Background(), "installation_repositories", Envelope{
		Action:       "added",
		Installation: inst,
		Repositories: []repository{{ID: 100, FullName: "acme/widgets"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(installations.appended[5]) != 1 || installations.appended[5][0].RepoFullName != "acme/widgets" {
		t.Errorf("expected acme/widgets appended to installation 5, got %v", installations.appended[5])
	}

	err = d.Dispatch(context.Background(), "installation_repositories", Envelope{
		Action:              "removed",
		Installation:        inst,
		RepositoriesRemoved: []repository{{ID: 100}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(installations.removed[5]) != 1 || installations.removed[5][0] != "100" {
		t.Errorf("expected repo 100 removed from installation 5, got %v", installations.removed[5])
	}
}

func TestDispatchPingIsNoop(t *testing.T) {
	d := newDispatcherForEventTests(t, newFakeInstallations(), &fakeUsers{})
	if err := d.Dispatch(context.Background(), "ping", Envelope{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatchUnknownEventIsAcknowledged(t *testing.T) {
	d := newDispatcherForEventTests(t, newFakeInstallations(), &fakeUsers{})
	if err := d.Dispatch(context.Background(), "star_created", Envelope{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
