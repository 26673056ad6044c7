package webhook

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prsentry/prsentry/internal/ghclient"
	"github.com/prsentry/prsentry/internal/installsync"
	"github.com/prsentry/prsentry/internal/queue"
	"github.com/prsentry/prsentry/internal/store"
)

// Envelope is the subset of fields every webhook payload carries:
// the event's action, and the installation/repository/pull_request
// sub-objects present depending on event type.
type Envelope struct {
	Action              string        `json:"action"`
	Installation        *installation `json:"installation"`
	Repository          *repository   `json:"repository"`
	Repositories        []repository  `json:"repositories_added"`
	RepositoriesRemoved []repository  `json:"repositories_removed"`
	PullRequest         *pullRequest  `json:"pull_request"`
}

type installation struct {
	ID      int64 `json:"id"`
	Account struct {
		Login     string `json:"login"`
		Type      string `json:"type"`
		AvatarURL string `json:"avatar_url"`
	} `json:"account"`
}

type repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

type pullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Merged bool   `json:"merged"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// GHClient is the subset of ghclient.Client the receiver uses for
// best-effort file fetching on pull_request.opened.
type GHClient interface {
	ListPRFiles(ctx context.Context, installationID int64, ownerRepo string, number int) ([]ghclient.PRFile, error)
}

// Dispatcher applies a parsed webhook event to the Durable Store and
// Job Queue per the event/action table.
type Dispatcher struct {
	installations store.InstallationRepository
	users         store.UserRepository
	prs           store.PullRequestRepository
	queue         *queue.Queue
	gh            GHClient
	syncer        *installsync.Syncer
	logger        *zap.SugaredLogger
}

func NewDispatcher(installations store.InstallationRepository, users store.UserRepository, prs store.PullRequestRepository, q *queue.Queue, gh GHClient, syncer *installsync.Syncer, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{installations: installations, users: users, prs: prs, queue: q, gh: gh, syncer: syncer, logger: logger}
}

// Dispatch routes an event by its name ("installation", "pull_request",
// etc.) and action field. Unrecognised event/action pairs are
// acknowledged without side effect, per spec.
func (d *Dispatcher) Dispatch(ctx context.Context, eventName string, env Envelope) error {
	switch eventName {
	case "installation":
		return d.dispatchInstallation(ctx, env)
	case "installation_repositories":
		return d.dispatchInstallationRepositories(ctx, env)
	case "pull_request":
		return d.dispatchPullRequest(ctx, env)
	case "ping":
		return nil
	default:
		d.logger.Debugw("unhandled event, acknowledging", "event", eventName)
		return nil
	}
}

func (d *Dispatcher) dispatchInstallation(ctx context.Context, env Envelope) error {
	if env.Installation == nil {
		return nil
	}
	inst := env.Installation

	switch env.Action {
	case "created":
		existing, err := d.installations.GetByInstallationID(ctx, inst.ID)
		if err == nil && existing != nil {
			return nil // skip if exists
		}

		accountType := store.AccountTypeUser
		if strings.EqualFold(inst.Account.Type, "organization") {
			accountType = store.AccountTypeOrganization
		}

		row := &store.Installation{
			InstallationID:   inst.ID,
			AccountType:      string(accountType),
			AccountLogin:     inst.Account.Login,
			AccountAvatarURL: inst.Account.AvatarURL,
		}
		if err := d.installations.Create(ctx, row); err != nil {
			return err
		}

		if accountType == store.AccountTypeOrganization {
			go d.syncer.Reconcile(context.Background(), inst.ID, inst.Account.Login)
		} else if user, err := d.users.GetByUsername(ctx, inst.Account.Login); err == nil {
			if err := d.users.AddInstallation(ctx, user.ID, inst.ID); err != nil {
				d.logger.Warnw("link user to installation failed", "installation_id", inst.ID, "error", err)
			}
		}
		return nil

	case "deleted":
		return d.installations.MarkSuspended(ctx, inst.ID)

	default:
		return nil
	}
}

func (d *Dispatcher) dispatchInstallationRepositories(ctx context.Context, env Envelope) error {
	if env.Installation == nil {
		return nil
	}
	inst := env.Installation

	switch env.Action {
	case "added":
		repos := make([]store.RepoRef, 0, len(env.Repositories))
		now := time.Now()
		for _, r := range env.Repositories {
			repos = append(repos, store.RepoRef{
				RepoID:       repoIDString(r.ID),
				RepoFullName: r.FullName,
				Private:      r.Private,
				InstalledAt:  now,
			})
		}
		return d.installations.AppendRepositories(ctx, inst.ID, repos)

	case "removed":
		ids := make([]string, 0, len(env.RepositoriesRemoved))
		for _, r := range env.RepositoriesRemoved {
			ids = append(ids, repoIDString(r.ID))
		}
		return d.installations.RemoveRepositories(ctx, inst.ID, ids)

	default:
		return nil
	}
}

func (d *Dispatcher) dispatchPullRequest(ctx context.Context, env Envelope) error {
	if env.Installation == nil || env.Repository == nil || env.PullRequest == nil {
		return nil
	}
	inst := env.Installation
	repo := env.Repository
	pr := env.PullRequest
	repoID := repoIDString(repo.ID)

	switch env.Action {
	case "opened":
		if existing, err := d.prs.GetPR(ctx, inst.ID, repoID, pr.Number); err == nil && existing != nil {
			return nil // idempotent
		}

		files, err := d.gh.ListPRFiles(ctx, inst.ID, repo.FullName, pr.Number)
		if err != nil {
			d.logger.Warnw("best-effort file fetch failed on pull_request.opened", "installation_id", inst.ID, "repo", repo.FullName, "number", pr.Number, "error", err)
			files = nil
		}
		filesChanged := make([]store.FileChangeRecord, 0, len(files))
		for _, f := range files {
			filesChanged = append(filesChanged, store.FileChangeRecord{Filename: f.Filename, Additions: f.Additions, Deletions: f.Deletions})
		}

		userID := d.attributeAuthor(ctx, inst.ID, pr.User.Login)

		created, _, err := d.prs.UpsertPR(ctx, repoID, pr.Number, store.PullRequestPatch{
			Title:        pr.Title,
			Author:       pr.User.Login,
			BranchFrom:   pr.Head.Ref,
			BranchTo:     pr.Base.Ref,
			Status:       string(store.PRStatusOpen),
			FilesChanged: filesChanged,
		}, store.PullRequestSetOnInsert{
			InstallationID: inst.ID,
			UserID:         userID,
			RepoFullName:   repo.FullName,
		})
		if err != nil {
			return err
		}

		_, err = d.queue.Enqueue(ctx, queue.QueuePRSummary, queue.JobNameGenerate, queue.PRSummaryPayload{
			PullRequestID:  created.ID,
			InstallationID: inst.ID,
			RepoFullName:   repo.FullName,
			Number:         pr.Number,
		})
		return err

	case "synchronize", "edited":
		before, _ := d.prs.GetPR(ctx, inst.ID, repoID, pr.Number)
		wasNew := before == nil
		wasPending := before != nil && before.SummaryStatus == string(store.SummaryStatusPending)

		files, err := d.gh.ListPRFiles(ctx, inst.ID, repo.FullName, pr.Number)
		if err != nil {
			d.logger.Warnw("best-effort file fetch failed on pull_request."+env.Action, "installation_id", inst.ID, "repo", repo.FullName, "number", pr.Number, "error", err)
			files = nil
		}
		filesChanged := make([]store.FileChangeRecord, 0, len(files))
		for _, f := range files {
			filesChanged = append(filesChanged, store.FileChangeRecord{Filename: f.Filename, Additions: f.Additions, Deletions: f.Deletions})
		}

		row, _, err := d.prs.UpsertPR(ctx, repoID, pr.Number, store.PullRequestPatch{
			Title:        pr.Title,
			Author:       pr.User.Login,
			BranchFrom:   pr.Head.Ref,
			BranchTo:     pr.Base.Ref,
			Status:       pr.State,
			FilesChanged: filesChanged,
		}, store.PullRequestSetOnInsert{
			InstallationID: inst.ID,
			RepoFullName:   repo.FullName,
		})
		if err != nil {
			return err
		}

		if wasNew || wasPending {
			_, err = d.queue.Enqueue(ctx, queue.QueuePRSummary, queue.JobNameGenerate, queue.PRSummaryPayload{
				PullRequestID:  row.ID,
				InstallationID: inst.ID,
				RepoFullName:   repo.FullName,
				Number:         pr.Number,
			})
			return err
		}
		return nil

	case "closed":
		return d.prs.UpdateStatus(ctx, inst.ID, repoID, pr.Number, string(store.PRStatusClosed), pr.Merged)

	case "reopened":
		if err := d.prs.Reopen(ctx, inst.ID, repoID, pr.Number); err != nil {
			return err
		}
		existing, err := d.prs.GetPR(ctx, inst.ID, repoID, pr.Number)
		if err != nil {
			return err
		}
		_, err = d.queue.Enqueue(ctx, queue.QueuePRSummary, queue.JobNameGenerate, queue.PRSummaryPayload{
			PullRequestID:  existing.ID,
			InstallationID: inst.ID,
			RepoFullName:   repo.FullName,
			Number:         pr.Number,
		})
		return err

	default:
		return nil
	}
}

// attributeAuthor resolves a User id for a new PR: a unique installation
// member if exactly one exists, else an author-by-username match.
func (d *Dispatcher) attributeAuthor(ctx context.Context, installationID int64, authorLogin string) *string {
	if members, err := d.users.FindByInstallationIDs(ctx, []int64{installationID}); err == nil && len(members) == 1 {
		return &members[0].ID
	}
	if user, err := d.users.GetByUsername(ctx, authorLogin); err == nil {
		return &user.ID
	}
	return nil
}

func repoIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
