package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	git "github.com/go-git/go-git/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/errors"
)

const (
	debounceWindow = 500 * time.Millisecond

	// Editors and builds can storm the watcher; beyond this rate events
	// are dropped rather than queued.
	fileEventsPerSecond = 20
	fileEventBurst      = 100
)

// alwaysExcluded are path patterns no configuration can re-enable.
var alwaysExcluded = []string{
	"node_modules", ".git/objects", ".git/refs", ".git/logs",
	"dist", "*.lock", "__pycache__", ".DS_Store", "*.swp", "*.swo", "*~",
}

// FilesAdapter watches configured directories recursively and records
// create/modify/delete activity.
type FilesAdapter struct {
	cfg     config.FilesConfig
	logger  *zap.SugaredLogger
	store   fifo[FileActivity]
	limiter *rate.Limiter

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string]*time.Timer
	branches map[string]string // repo root -> branch cache

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFilesAdapter builds the adapter; the watcher is created at Start.
func NewFilesAdapter(cfg config.FilesConfig, logger *zap.SugaredLogger) *FilesAdapter {
	return &FilesAdapter{
		cfg:      cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(fileEventsPerSecond, fileEventBurst),
		pending:  make(map[string]*time.Timer),
		branches: make(map[string]string),
	}
}

func (a *FilesAdapter) Name() string { return "files" }

// Start creates the watcher and registers every non-excluded directory
// under the configured roots.
func (a *FilesAdapter) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	a.watcher = watcher

	registered := 0
	for _, root := range a.cfg.WatchDirs {
		root = expandHome(root)
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, keep walking siblings
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && a.ShouldIgnore(path) {
				return filepath.SkipDir
			}
			if err := watcher.Add(path); err == nil {
				registered++
			}
			return nil
		})
		if err != nil {
			a.logger.Warnw("Watch root walk failed", "root", root, "error", err)
		}
	}
	if registered == 0 {
		watcher.Close()
		return errors.New("no watchable directories")
	}
	a.logger.Infow("File watcher registered", "directories", registered)

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	return nil
}

func (a *FilesAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.mu.Lock()
	for _, t := range a.pending {
		t.Stop()
	}
	a.pending = make(map[string]*time.Timer)
	a.mu.Unlock()
	if a.watcher != nil {
		a.watcher.Close()
	}
}

func (a *FilesAdapter) loop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.handleEvent(ev)
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Debugw("File watcher error", "error", err)
		}
	}
}

func (a *FilesAdapter) handleEvent(ev fsnotify.Event) {
	if a.ShouldIgnore(ev.Name) {
		return
	}

	// New directories join the watch set immediately, not after debounce,
	// or events inside them are lost.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			a.watcher.Add(ev.Name)
			return
		}
	}

	eventType := classifyOp(ev.Op)
	if eventType == "" {
		return
	}

	// Debounce: rapid rewrites of the same path collapse into the last one.
	a.mu.Lock()
	if timer, ok := a.pending[ev.Name]; ok {
		timer.Stop()
	}
	path := ev.Name
	a.pending[path] = time.AfterFunc(debounceWindow, func() {
		a.mu.Lock()
		delete(a.pending, path)
		a.mu.Unlock()
		a.record(path, eventType)
	})
	a.mu.Unlock()
}

func classifyOp(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "modify"
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return "delete"
	}
	return ""
}

func (a *FilesAdapter) record(path, eventType string) {
	if !a.limiter.Allow() {
		return
	}

	activity := FileActivity{
		Meta:      NewMeta(time.Now()),
		EventType: eventType,
		FilePath:  path,
		FileType:  strings.TrimPrefix(filepath.Ext(path), "."),
	}
	if eventType != "delete" {
		if info, err := os.Stat(path); err == nil {
			if info.IsDir() {
				return
			}
			activity.SizeBytes = info.Size()
		}
	}
	if branch, ok := a.gitBranch(filepath.Dir(path)); ok {
		activity.IsGitRepo = true
		activity.GitBranch = branch
	}

	a.store.append(activity)
}

// gitBranch resolves the current branch for the repository containing dir,
// caching per directory since events cluster.
func (a *FilesAdapter) gitBranch(dir string) (string, bool) {
	a.mu.Lock()
	if branch, ok := a.branches[dir]; ok {
		a.mu.Unlock()
		return branch, branch != ""
	}
	a.mu.Unlock()

	branch := ""
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err == nil {
		if head, err := repo.Head(); err == nil {
			branch = head.Name().Short()
		}
	}

	a.mu.Lock()
	a.branches[dir] = branch
	a.mu.Unlock()
	return branch, branch != ""
}

// SetExcludePatterns swaps the configured exclusions at runtime. The config
// watcher calls this when the manifest changes; already-buffered events are
// not re-filtered.
func (a *FilesAdapter) SetExcludePatterns(patterns []string) {
	a.mu.Lock()
	a.cfg.ExcludePatterns = append([]string(nil), patterns...)
	a.mu.Unlock()
}

// ShouldIgnore applies the exclusion pattern semantics:
// "*.ext" matches a filename suffix, "prefix*" a path prefix substring,
// "a/b" a path substring, and a bare name matches whole path segments only.
func (a *FilesAdapter) ShouldIgnore(path string) bool {
	for _, p := range alwaysExcluded {
		if matchPattern(path, p) {
			return true
		}
	}
	a.mu.Lock()
	patterns := a.cfg.ExcludePatterns
	a.mu.Unlock()
	for _, p := range patterns {
		if matchPattern(path, p) {
			return true
		}
	}
	return false
}

func matchPattern(path, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(filepath.Base(path), pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.Contains(path, pattern[:len(pattern)-1])
	case pattern == "*~":
		return strings.HasSuffix(path, "~")
	case strings.Contains(pattern, "/"):
		return strings.Contains(path, pattern)
	default:
		for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
			if segment == pattern {
				return true
			}
		}
		return false
	}
}

// GetCaptures returns events at or after since.
func (a *FilesAdapter) GetCaptures(since time.Time) []FileActivity {
	return a.store.since(since)
}

func (a *FilesAdapter) GetCount() int { return a.store.len() }

func (a *FilesAdapter) TrimCaptures(cutoff time.Time) int { return a.store.trim(cutoff) }

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
