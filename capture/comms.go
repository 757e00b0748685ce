package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/signetai/signet/config"
)

const (
	commsPollInterval = 5 * time.Minute
	commitLookback    = 20 * time.Minute
)

// CommsAdapter watches configured git repositories for new commits.
type CommsAdapter struct {
	cfg    config.CommsConfig
	logger *zap.SugaredLogger
	store  fifo[CommCapture]

	mu       sync.Mutex
	lastSeen map[string]string // repo path -> newest seen commit hash

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCommsAdapter builds the adapter over the configured repo patterns.
func NewCommsAdapter(cfg config.CommsConfig, logger *zap.SugaredLogger) *CommsAdapter {
	return &CommsAdapter{
		cfg:      cfg,
		logger:   logger,
		lastSeen: make(map[string]string),
	}
}

func (a *CommsAdapter) Name() string { return "comms" }

func (a *CommsAdapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	return nil
}

func (a *CommsAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *CommsAdapter) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(commsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll()
		}
	}
}

func (a *CommsAdapter) poll() {
	for _, repoPath := range a.resolveRepos() {
		a.pollRepo(repoPath)
	}
}

// resolveRepos expands the configured patterns: "~" to the home directory,
// and a trailing "/*" to every subdirectory containing ".git".
func (a *CommsAdapter) resolveRepos() []string {
	var repos []string
	for _, pattern := range a.cfg.GitRepos {
		pattern = expandHome(pattern)
		if !strings.HasSuffix(pattern, "/*") {
			repos = append(repos, pattern)
			continue
		}
		parent := strings.TrimSuffix(pattern, "/*")
		entries, err := os.ReadDir(parent)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			candidate := filepath.Join(parent, e.Name())
			if _, err := os.Stat(filepath.Join(candidate, ".git")); err == nil {
				repos = append(repos, candidate)
			}
		}
	}
	return repos
}

// pollRepo walks recent commits newest-first, stopping at the hash seen on
// the previous pass so each commit is captured once.
func (a *CommsAdapter) pollRepo(repoPath string) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return
	}

	branch := ""
	head, err := repo.Head()
	if err != nil {
		return
	}
	branch = head.Name().Short()

	since := time.Now().Add(-commitLookback)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), Since: &since})
	if err != nil {
		a.logger.Debugw("Commit log failed", "repo", repoPath, "error", err)
		return
	}
	defer iter.Close()

	a.mu.Lock()
	stopAt := a.lastSeen[repoPath]
	a.mu.Unlock()

	var fresh []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash.String() == stopAt {
			return storer.ErrStop
		}
		fresh = append(fresh, c)
		return nil
	})
	if err != nil {
		a.logger.Debugw("Commit walk failed", "repo", repoPath, "error", err)
	}
	if len(fresh) == 0 {
		return
	}

	// The walk yields newest-first; store oldest-first so the buffer
	// stays time-ordered.
	repoName := filepath.Base(repoPath)
	for i := len(fresh) - 1; i >= 0; i-- {
		c := fresh[i]
		a.store.append(CommCapture{
			Meta:    NewMeta(c.Author.When),
			Source:  "git_commit",
			Content: commitSubject(c.Message),
			Metadata: CommMetadata{
				Repo:       repoName,
				RepoPath:   repoPath,
				Branch:     branch,
				CommitHash: c.Hash.String(),
				Author:     c.Author.Name,
			},
		})
	}

	a.mu.Lock()
	a.lastSeen[repoPath] = fresh[0].Hash.String()
	a.mu.Unlock()
	a.logger.Debugw("New commits captured", "repo", repoName, "count", len(fresh))
}

func commitSubject(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return strings.TrimSpace(message[:idx])
	}
	return strings.TrimSpace(message)
}

// GetCaptures returns events at or after since.
func (a *CommsAdapter) GetCaptures(since time.Time) []CommCapture {
	return a.store.since(since)
}

func (a *CommsAdapter) GetCount() int { return a.store.len() }

func (a *CommsAdapter) TrimCaptures(cutoff time.Time) int { return a.store.trim(cutoff) }
