package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/prsentry/prsentry/internal/apperrors"
	"github.com/prsentry/prsentry/internal/store"
	"github.com/prsentry/prsentry/internal/testutil"
)

func TestInstallationCreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	installations := store.NewInstallationRepository(db, testutil.TestLogger(t))
	ctx := context.Background()

	inst := &store.Installation{InstallationID: 500, AccountType: string(store.AccountTypeOrganization), AccountLogin: "acme"}
	if err := installations.Create(ctx, inst); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := installations.GetByInstallationID(ctx, 500)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccountLogin != "acme" {
		t.Errorf("unexpected installation: %+v", got)
	}
}

func TestInstallationAppendAndRemoveRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	installations := store.NewInstallationRepository(db, testutil.TestLogger(t))
	ctx := context.Background()

	inst := &store.Installation{InstallationID: 501, AccountType: string(store.AccountTypeUser), AccountLogin: "octocat"}
	if err := installations.Create(ctx, inst); err != nil {
		t.Fatalf("create: %v", err)
	}

	repos := []store.RepoRef{
		{RepoID: "1", RepoFullName: "acme/widgets", InstalledAt: time.Now()},
		{RepoID: "2", RepoFullName: "acme/gadgets", InstalledAt: time.Now()},
	}
	if err := installations.AppendRepositories(ctx, 501, repos); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := installations.GetByInstallationID(ctx, 501)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Repositories.Val) != 2 {
		t.Fatalf("expected 2 repositories, got %d", len(got.Repositories.Val))
	}

	if err := installations.RemoveRepositories(ctx, 501, []string{"1"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = installations.GetByInstallationID(ctx, 501)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Repositories.Val) != 1 || got.Repositories.Val[0].RepoID != "2" {
		t.Errorf("expected only repo 2 to remain, got %+v", got.Repositories.Val)
	}
}

func TestInstallationMarkSuspendedUnlinksUsers(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	installations := store.NewInstallationRepository(db, testutil.TestLogger(t))
	users := store.NewUserRepository(db, testutil.TestLogger(t))
	ctx := context.Background()

	inst := &store.Installation{InstallationID: 502, AccountType: string(store.AccountTypeUser), AccountLogin: "octocat"}
	if err := installations.Create(ctx, inst); err != nil {
		t.Fatalf("create installation: %v", err)
	}
	u := &store.User{PlatformID: 9, Username: "octocat"}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := users.AddInstallation(ctx, u.ID, 502); err != nil {
		t.Fatalf("add installation: %v", err)
	}

	if err := installations.MarkSuspended(ctx, 502); err != nil {
		t.Fatalf("mark suspended: %v", err)
	}

	got, err := installations.GetByInstallationID(ctx, 502)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SuspendedAt == nil {
		t.Error("expected suspendedAt to be set")
	}

	gotUser, err := users.GetByPlatformID(ctx, 9)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(gotUser.InstallationIDs.Val) != 0 {
		t.Errorf("expected installation to be unlinked from the user, got %v", gotUser.InstallationIDs.Val)
	}
}

func TestInstallationMarkSuspendedNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker for a disposable Postgres container")
	}
	db := testutil.OpenTestDB(t)
	installations := store.NewInstallationRepository(db, testutil.TestLogger(t))

	err := installations.MarkSuspended(context.Background(), 999999)
	if apperrors.CodeOf(err) != apperrors.NotFound {
		t.Errorf("expected NotFound, got %v", apperrors.CodeOf(err))
	}
}
