// Package installsync reconciles organization-account Installations
// against the upstream platform's member list: users who already have
// an account here and happen to be org members are linked to the
// installation automatically, so they see the org's PRs without an
// explicit invite flow.
package installsync

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/prsentry/prsentry/internal/apperrors"
	"github.com/prsentry/prsentry/internal/ghclient"
	"github.com/prsentry/prsentry/internal/store"
)

// GHClient is the subset of ghclient.Client this package depends on.
type GHClient interface {
	ListOrgMembers(ctx context.Context, installationID int64, org string, page int) ([]ghclient.Member, error)
	ListPublicMembers(ctx context.Context, installationID int64, org string, page int) ([]ghclient.Member, error)
}

const maxMemberPages = 10

// Result reports what Reconcile did. Errors are collected, not
// returned, because a handful of member-lookup failures shouldn't
// abort an otherwise-successful sync.
type Result struct {
	Updated int
	Errors  []error
}

type Syncer struct {
	gh     GHClient
	users  store.UserRepository
	logger *zap.SugaredLogger
}

func New(gh GHClient, users store.UserRepository, logger *zap.SugaredLogger) *Syncer {
	return &Syncer{gh: gh, users: users, logger: logger}
}

// Reconcile pages through an organization's members — falling back to
// the public-members endpoint when the installation can't see private
// membership — and links any matching existing User to installationID.
func (s *Syncer) Reconcile(ctx context.Context, installationID int64, org string) Result {
	members, err := s.listMembers(ctx, installationID, org)
	if err != nil {
		return Result{Errors: []error{err}}
	}

	result := Result{}
	for _, m := range members {
		user, err := s.users.GetByUsername(ctx, m.Login)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.NotFound {
				continue
			}
			result.Errors = append(result.Errors, err)
			continue
		}
		if err := s.users.AddInstallation(ctx, user.ID, installationID); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Updated++
	}

	if len(result.Errors) > 0 {
		s.logger.Warnw("installation sync completed with errors", "installation_id", installationID, "org", org, "updated", result.Updated, "errors", len(result.Errors))
	} else {
		s.logger.Infow("installation sync complete", "installation_id", installationID, "org", org, "updated", result.Updated)
	}
	return result
}

func (s *Syncer) listMembers(ctx context.Context, installationID int64, org string) ([]ghclient.Member, error) {
	var all []ghclient.Member
	for page := 1; page <= maxMemberPages; page++ {
		members, err := s.gh.ListOrgMembers(ctx, installationID, org, page)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.UpstreamPermanent && isForbidden(err) {
				return s.listPublicMembers(ctx, installationID, org)
			}
			return nil, err
		}
		if len(members) == 0 {
			break
		}
		all = append(all, members...)
	}
	return all, nil
}

func (s *Syncer) listPublicMembers(ctx context.Context, installationID int64, org string) ([]ghclient.Member, error) {
	var all []ghclient.Member
	for page := 1; page <= maxMemberPages; page++ {
		members, err := s.gh.ListPublicMembers(ctx, installationID, org, page)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			break
		}
		all = append(all, members...)
	}
	return all, nil
}

// isForbidden reports whether err is the AppError ghclient produces for
// an HTTP 403, which it tags UpstreamPermanent just like any other
// non-retryable 4xx. Installation Sync needs to distinguish "forbidden,
// fall back to public members" from any other permanent client error,
// so it inspects the message ghclient wrote rather than adding a new
// error kind for one call site.
func isForbidden(err error) bool {
	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		return false
	}
	return strings.Contains(ae.Msg, "403")
}
