package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractRepoName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/wine-site.git", "wine-site"},
		{"https://github.com/acme/wine-site/", "wine-site"},
		{"git@github.com:acme/wine-site.git", "wine-site"},
		{"git@host:wine-site.git", "wine-site"},
		{"/srv/git/wine-site", "wine-site"},
		{"", "repo"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractRepoName(tt.url))
		})
	}
}

func gitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

// newCheckout creates an origin repository with one commit on main and
// returns a Repository for a fresh clone of it.
func newCheckout(t *testing.T) *Repository {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	tmp := t.TempDir()

	origin := filepath.Join(tmp, "origin")
	require.NoError(t, os.MkdirAll(origin, 0o755))
	gitCmd(t, origin, "init", "-q")
	gitCmd(t, origin, "checkout", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(origin, "README"), []byte("site"), 0o644))
	gitCmd(t, origin, "add", "-A")
	gitCmd(t, origin, "-c", "user.name=t", "-c", "user.email=t@example.com", "commit", "-q", "-m", "init")

	return NewRepository(Config{
		URL:          origin,
		Branch:       "main",
		WorkspaceDir: filepath.Join(tmp, "ws"),
		GitUsername:  "factory",
		GitEmail:     "factory@example.com",
	}, zap.NewNop())
}

func TestCloneCommitCycle(t *testing.T) {
	ctx := context.Background()
	repo := newCheckout(t)
	require.NoError(t, repo.Initialize(ctx))
	assert.FileExists(t, filepath.Join(repo.LocalPath(), "README"))

	changed, err := repo.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(filepath.Join(repo.LocalPath(), "post.html"), []byte("<p>hi</p>"), 0o644))
	require.NoError(t, repo.AddAll(ctx))
	committed, err := repo.Commit(ctx, "Publish post")
	require.NoError(t, err)
	assert.True(t, committed)

	committed, err = repo.Commit(ctx, "Nothing new")
	require.NoError(t, err)
	assert.False(t, committed)

	// A second Initialize pulls the existing checkout.
	require.NoError(t, repo.Initialize(ctx))
	assert.FileExists(t, filepath.Join(repo.LocalPath(), "post.html"))
}

func TestCommitOnCleanTreeUnderOtherLocale(t *testing.T) {
	t.Setenv("LC_ALL", "de_DE.UTF-8")
	t.Setenv("LANGUAGE", "de")
	ctx := context.Background()
	repo := newCheckout(t)
	require.NoError(t, repo.Initialize(ctx))

	require.NoError(t, repo.AddAll(ctx))
	committed, err := repo.Commit(ctx, "Nothing to do")
	require.NoError(t, err)
	assert.False(t, committed)

	require.NoError(t, os.Remove(filepath.Join(repo.LocalPath(), "README")))
	require.NoError(t, repo.AddAll(ctx))
	committed, err = repo.Commit(ctx, "Remove readme")
	require.NoError(t, err)
	assert.True(t, committed)

	changed, err := repo.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}
