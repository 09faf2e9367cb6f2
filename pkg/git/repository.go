package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Repository is a local checkout of a remote repository driven through
// the git command line.
type Repository struct {
	logger       *zap.Logger
	repoURL      string
	localPath    string
	branch       string
	workspaceDir string
	gitUsername  string
	gitEmail     string
}

// Config describes the remote and where to check it out.
type Config struct {
	URL          string
	Branch       string
	WorkspaceDir string
	GitUsername  string
	GitEmail     string
}

func NewRepository(cfg Config, logger *zap.Logger) *Repository {
	return &Repository{
		logger:       logger,
		repoURL:      cfg.URL,
		localPath:    filepath.Join(cfg.WorkspaceDir, extractRepoName(cfg.URL)),
		branch:       cfg.Branch,
		workspaceDir: cfg.WorkspaceDir,
		gitUsername:  cfg.GitUsername,
		gitEmail:     cfg.GitEmail,
	}
}

// Initialize clones the repository, or pulls it when a valid checkout is
// already present. A broken checkout is removed and cloned again.
func (r *Repository) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(r.workspaceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	if r.exists(ctx) {
		if err := r.pull(ctx); err == nil {
			return nil
		} else {
			r.logger.Warn("Failed to pull repository, cloning again",
				zap.String("path", r.localPath),
				zap.Error(err))
		}
	}

	if err := os.RemoveAll(r.localPath); err != nil {
		return fmt.Errorf("failed to remove stale checkout: %w", err)
	}
	if _, err := r.run(ctx, r.workspaceDir, "clone", "-b", r.branch, r.repoURL, filepath.Base(r.localPath)); err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	r.logger.Info("Repository cloned",
		zap.String("url", r.repoURL),
		zap.String("branch", r.branch),
		zap.String("path", r.localPath))
	return r.configureUser(ctx)
}

func (r *Repository) exists(ctx context.Context) bool {
	if _, err := os.Stat(filepath.Join(r.localPath, ".git")); err != nil {
		return false
	}
	_, err := r.run(ctx, r.localPath, "status", "--porcelain")
	return err == nil
}

func (r *Repository) pull(ctx context.Context) error {
	if _, err := r.run(ctx, r.localPath, "checkout", r.branch); err != nil {
		return err
	}
	if _, err := r.run(ctx, r.localPath, "pull", "--ff-only", "origin", r.branch); err != nil {
		return err
	}
	r.logger.Debug("Repository pulled", zap.String("branch", r.branch))
	return nil
}

func (r *Repository) configureUser(ctx context.Context) error {
	if r.gitUsername == "" || r.gitEmail == "" {
		r.logger.Warn("Git username or email not configured, using global identity")
		return nil
	}
	if _, err := r.run(ctx, r.localPath, "config", "user.name", r.gitUsername); err != nil {
		return fmt.Errorf("failed to set git user name: %w", err)
	}
	if _, err := r.run(ctx, r.localPath, "config", "user.email", r.gitEmail); err != nil {
		return fmt.Errorf("failed to set git user email: %w", err)
	}
	return nil
}

// AddAll stages every change in the checkout, deletions included.
func (r *Repository) AddAll(ctx context.Context) error {
	if _, err := r.run(ctx, r.localPath, "add", "-A"); err != nil {
		return fmt.Errorf("failed to add files: %w", err)
	}
	return nil
}

// Commit records the changes staged by AddAll. It reports false when the
// working tree is clean.
func (r *Repository) Commit(ctx context.Context, message string) (bool, error) {
	changed, err := r.HasChanges(ctx)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if _, err := r.run(ctx, r.localPath, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	r.logger.Info("Committed changes", zap.String("message", message))
	return true, nil
}

func (r *Repository) Push(ctx context.Context) error {
	if _, err := r.run(ctx, r.localPath, "push", "origin", r.branch); err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}
	r.logger.Info("Pushed to remote", zap.String("branch", r.branch))
	return nil
}

// HasChanges reports whether the checkout differs from HEAD, untracked
// files included.
func (r *Repository) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, r.localPath, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to get git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

func (r *Repository) LocalPath() string {
	return r.localPath
}

func (r *Repository) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if isSSHURL(r.repoURL) {
		cmd.Env = append(os.Environ(), "GIT_SSH_COMMAND=ssh -o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no")
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// extractRepoName returns the last path element of an HTTPS, SSH or local
// repository URL without its .git suffix.
func extractRepoName(url string) string {
	url = strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	if url == "" {
		return "repo"
	}
	return url
}

func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}
