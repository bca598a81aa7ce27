package collab

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// GitHubHost implements VCSHost against the GitHub API.
type GitHubHost struct {
	client *github.Client
	logger *zap.Logger
}

// NewGitHubHost creates a GitHub client with token authentication.
// baseURL selects a GitHub Enterprise endpoint when non-empty.
func NewGitHubHost(ctx context.Context, token config.Secret, baseURL string, logger *zap.Logger) (*GitHubHost, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise URL: %w", err)
		}
	}

	return &GitHubHost{client: client, logger: logger}, nil
}

// splitRepo splits "owner/name" into its parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q (expected owner/name)", repo)
	}
	return parts[0], parts[1], nil
}

// EnsureLabel creates the label if it does not exist. An already-existing
// label is not an error.
func (h *GitHubHost) EnsureLabel(ctx context.Context, repo, name string) error {
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return err
	}

	_, resp, err := h.client.Issues.CreateLabel(ctx, owner, repoName, &github.Label{
		Name: github.String(name),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			return nil // already exists
		}
		return fmt.Errorf("creating label %q: %w", name, err)
	}
	return nil
}

// ListLabels returns the repository's labels.
func (h *GitHubHost) ListLabels(ctx context.Context, repo string) ([]Label, error) {
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ghLabels, _, err := h.client.Issues.ListLabels(ctx, owner, repoName, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}

	labels := make([]Label, 0, len(ghLabels))
	for _, l := range ghLabels {
		labels = append(labels, Label{ID: l.GetID(), Name: l.GetName()})
	}
	return labels, nil
}

// CreatePR opens a pull request and applies labels. Label application is
// best-effort; the PR itself is the primary action.
func (h *GitHubHost) CreatePR(ctx context.Context, req PRRequest) (*PRResult, error) {
	owner, repoName, err := splitRepo(req.Repo)
	if err != nil {
		return nil, err
	}

	pr, _, err := h.client.PullRequests.Create(ctx, owner, repoName, &github.NewPullRequest{
		Title: github.String(req.Title),
		Body:  github.String(req.Body),
		Head:  github.String(req.Head),
		Base:  github.String(req.Base),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}

	if len(req.Labels) > 0 {
		if _, _, err := h.client.Issues.AddLabelsToIssue(ctx, owner, repoName, pr.GetNumber(), req.Labels); err != nil {
			h.logger.Warn("failed to apply PR labels",
				zap.String("repo", req.Repo),
				zap.Int("number", pr.GetNumber()),
				zap.Error(err))
		}
	}

	return &PRResult{URL: pr.GetHTMLURL(), Number: pr.GetNumber()}, nil
}

// RequestReviewers requests reviews on the pull request.
func (h *GitHubHost) RequestReviewers(ctx context.Context, repo string, number int, reviewers []string) error {
	if len(reviewers) == 0 {
		return nil
	}
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return err
	}
	if _, _, err := h.client.PullRequests.RequestReviewers(ctx, owner, repoName, number, github.ReviewersRequest{
		Reviewers: reviewers,
	}); err != nil {
		return fmt.Errorf("requesting reviewers: %w", err)
	}
	return nil
}
