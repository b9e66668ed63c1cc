package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
)

// GitConfig configures the git sink.
type GitConfig struct {
	Path        string `mapstructure:"path"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
	// Remote is pushed to after every commit when set.
	Remote   string `mapstructure:"remote"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Git keeps the filesystem layout inside a git worktree and records
// every backup as a commit.
type Git struct {
	fs     *Filesystem
	repo   *git.Repository
	cfg    GitConfig
	mu     sync.Mutex
	logger *zap.Logger

	commit func(wt *git.Worktree, msg string, opts *git.CommitOptions) (plumbing.Hash, error)
}

var _ Sink = (*Git)(nil)

// NewGit opens the repository at cfg.Path, initializing it when missing.
func NewGit(cfg GitConfig, retention int, logger *zap.Logger) (*Git, error) {
	if cfg.Path == "" {
		return nil, errors.New("git output: path is required")
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "edna"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "edna@localhost"
	}
	if err := os.MkdirAll(cfg.Path, dirMode); err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(cfg.Path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		logger.Info("Initializing backup repository", zap.String("path", cfg.Path))
		repo, err = git.PlainInit(cfg.Path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("git output: open %s: %w", cfg.Path, err)
	}
	fs, err := newFilesystem(cfg.Path, filepath.Join(cfg.Path, ".git", "edna-tmp"), retention, logger)
	if err != nil {
		return nil, err
	}
	return &Git{fs: fs, repo: repo, cfg: cfg, logger: logger, commit: (*git.Worktree).Commit}, nil
}

func (g *Git) Name() string {
	return "git"
}

// Save implements Sink. The worktree is shared by all devices, so saves
// are serialized. The backup and its rotation are separate commits: a
// failed rotation leaves the older backups tracked and on disk.
func (g *Git) Save(ctx context.Context, device string, content []byte, ts time.Time) (models.BackupRef, error) {
	if !validDevice(device) {
		return models.BackupRef{}, writeFailed("invalid device name %q", device)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	wt, err := g.repo.Worktree()
	if err != nil {
		return models.BackupRef{}, writeFailed("git worktree: %v", err)
	}
	ref, err := g.fs.write(device, content, ts)
	if err != nil {
		return models.BackupRef{}, err
	}
	rel := filepath.ToSlash(filepath.Join(device, ref.ID))
	if _, err := wt.Add(rel); err != nil {
		_ = os.Remove(g.fs.path(device, ref.ID))
		return models.BackupRef{}, writeFailed("git add %s: %v", rel, err)
	}
	msg := fmt.Sprintf("Backup %s at %s", device, ref.CreationTime.Format(time.RFC3339))
	if _, err := g.commit(wt, msg, g.commitOptions(ref.CreationTime)); err != nil {
		_, _ = wt.Remove(rel)
		_ = os.Remove(g.fs.path(device, ref.ID))
		return models.BackupRef{}, writeFailed("git commit: %v", err)
	}
	ref.Sink = g.Name()

	g.rotate(ctx, wt, device, ref.CreationTime)

	if g.cfg.Remote != "" {
		g.push(ctx)
	}
	return ref, nil
}

// rotate removes the backups of device beyond retention in one commit.
// When that commit fails the worktree is reset to HEAD, which still
// holds them.
func (g *Git) rotate(ctx context.Context, wt *git.Worktree, device string, when time.Time) {
	refs, err := g.fs.List(ctx, device)
	if err != nil {
		g.logger.Warn("List backups for rotation failed", zap.String("device", device), zap.Error(err))
		return
	}
	evicted := 0
	for _, old := range expired(refs, g.fs.retention) {
		if _, err := wt.Remove(filepath.ToSlash(filepath.Join(device, old.ID))); err != nil {
			g.logger.Warn("Remove expired backup failed", zap.String("device", device), zap.String("filename", old.ID), zap.Error(err))
			continue
		}
		evicted++
	}
	if evicted == 0 {
		return
	}
	msg := fmt.Sprintf("Rotate %s, removed %d", device, evicted)
	if _, err := g.commit(wt, msg, g.commitOptions(when)); err != nil {
		g.logger.Warn("Commit rotation failed", zap.String("device", device), zap.Error(err))
		if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
			g.logger.Error("Restore expired backups failed", zap.String("device", device), zap.Error(err))
		}
	}
}

func (g *Git) commitOptions(when time.Time) *git.CommitOptions {
	return &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.cfg.AuthorName,
			Email: g.cfg.AuthorEmail,
			When:  when,
		},
	}
}

func (g *Git) push(ctx context.Context) {
	opts := &git.PushOptions{RemoteName: g.cfg.Remote}
	if g.cfg.Username != "" || g.cfg.Password != "" {
		opts.Auth = &http.BasicAuth{Username: g.cfg.Username, Password: g.cfg.Password}
	}
	if err := g.repo.PushContext(ctx, opts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		g.logger.Warn("Push backup repository failed", zap.String("remote", g.cfg.Remote), zap.Error(err))
	}
}

// List implements Sink.
func (g *Git) List(ctx context.Context, device string) ([]models.BackupRef, error) {
	refs, err := g.fs.List(ctx, device)
	for i := range refs {
		refs[i].Sink = g.Name()
	}
	return refs, err
}

// Get implements Sink.
func (g *Git) Get(ctx context.Context, device, id string) ([]byte, error) {
	return g.fs.Get(ctx, device, id)
}

// Devices implements Sink.
func (g *Git) Devices(ctx context.Context) ([]string, error) {
	return g.fs.Devices(ctx)
}
