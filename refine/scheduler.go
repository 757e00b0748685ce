package refine

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/capture"
	"github.com/signetai/signet/memory"
)

const schedulerInitialDelay = 60 * time.Second

// bundleSource is the slice of the capture manager the scheduler reads.
type bundleSource interface {
	GetRecentCaptures(since time.Time) *capture.Bundle
}

// memorySink is where extracted memories land.
type memorySink interface {
	Remember(ctx context.Context, input memory.RememberInput) (memory.RememberResult, error)
}

// Scheduler drives the refiners on a fixed cycle: snapshot the adapters,
// decide who runs, persist what they extract.
type Scheduler struct {
	source   bundleSource
	sink     memorySink
	refiners []Refiner
	interval time.Duration
	logger   *zap.SugaredLogger

	mu             sync.Mutex
	lastRun        map[string]time.Time
	lastProject    string
	extractedToday int
	todayKey       string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler wires the cycle. Interval under a minute is clamped to the
// 20-minute default to protect the model server.
func NewScheduler(source bundleSource, sink memorySink, refiners []Refiner, intervalMinutes int, logger *zap.SugaredLogger) *Scheduler {
	if intervalMinutes <= 0 {
		intervalMinutes = 20
	}
	return &Scheduler{
		source:   source,
		sink:     sink,
		refiners: refiners,
		interval: time.Duration(intervalMinutes) * time.Minute,
		logger:   logger,
		lastRun:  make(map[string]time.Time),
		todayKey: time.Now().Format("2006-01-02"),
	}
}

// Start begins the cycle loop after a short settling delay so adapters
// have something to show before the first extraction.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(schedulerInitialDelay):
		}
		s.RunCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunCycle executes one scheduling pass. Exported so hooks can force an
// extraction outside the timer.
func (s *Scheduler) RunCycle(ctx context.Context) {
	now := time.Now()
	bundle := s.source.GetRecentCaptures(now.Add(-2 * s.interval))
	if bundle.Total() == 0 {
		return
	}

	force := s.detectProjectSwitch(bundle)

	for _, r := range s.refiners {
		forced := force && projectSensitiveRefiners[r.Name()]
		if !forced && !s.shouldRun(r, bundle, now) {
			continue
		}

		memories, err := r.Refine(ctx, bundle)
		if err != nil {
			s.logger.Warnw("Refiner failed", "refiner", r.Name(), "error", err)
			continue
		}
		s.setLastRun(r.Name(), now)

		for _, em := range memories {
			importance := em.Importance
			confidence := em.Confidence
			if _, err := s.sink.Remember(ctx, memory.RememberInput{
				Content:    em.Content,
				Type:       em.Type,
				Source:     r.Name(),
				Importance: &importance,
				Confidence: &confidence,
				Tags:       em.Tags,
			}); err != nil {
				s.logger.Warnw("Extracted memory not persisted",
					"refiner", r.Name(), "error", err)
				continue
			}
			s.countExtraction(now)
		}
	}
}

func (s *Scheduler) shouldRun(r Refiner, bundle *capture.Bundle, now time.Time) bool {
	if !r.HasEnoughData(bundle) {
		return false
	}
	s.mu.Lock()
	last, ran := s.lastRun[r.Name()]
	s.mu.Unlock()
	return !ran || now.Sub(last) >= r.Cooldown()
}

func (s *Scheduler) setLastRun(name string, t time.Time) {
	s.mu.Lock()
	s.lastRun[name] = t
	s.mu.Unlock()
}

// detectProjectSwitch derives the current project from the latest screen
// window or file path and reports whether it changed since the last cycle.
func (s *Scheduler) detectProjectSwitch(bundle *capture.Bundle) bool {
	current := currentProject(bundle)
	if current == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.lastProject
	s.lastProject = current
	if previous != "" && previous != current {
		s.logger.Infow("Project switch detected", "from", previous, "to", current)
		return true
	}
	return false
}

// Window titles separate the document from the project with an em dash,
// en dash, or hyphen; the last segment names the project.
var titleSeparators = regexp.MustCompile(`\s+[—–-]\s+`)

func currentProject(bundle *capture.Bundle) string {
	if len(bundle.Screen) > 0 {
		title := bundle.Screen[len(bundle.Screen)-1].FocusedWindow
		parts := titleSeparators.Split(title, -1)
		if len(parts) > 1 {
			return strings.TrimSpace(parts[len(parts)-1])
		}
	}
	if len(bundle.Files) > 0 {
		path := bundle.Files[len(bundle.Files)-1].FilePath
		segments := strings.Split(strings.Trim(path, "/"), "/")
		for i, seg := range segments {
			if seg == "projects" && i+1 < len(segments) {
				return segments[i+1]
			}
		}
	}
	return ""
}

// SeedProject primes project-switch detection, e.g. from persisted state.
func (s *Scheduler) SeedProject(project string) {
	s.mu.Lock()
	s.lastProject = project
	s.mu.Unlock()
}

// SeedLastRun primes a refiner's cooldown clock.
func (s *Scheduler) SeedLastRun(name string, t time.Time) {
	s.setLastRun(name, t)
}

// LastRefinerRun reports each refiner's most recent successful invocation.
func (s *Scheduler) LastRefinerRun() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.lastRun))
	for k, v := range s.lastRun {
		out[k] = v
	}
	return out
}

// MemoriesExtractedToday counts persisted extractions since local midnight.
func (s *Scheduler) MemoriesExtractedToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.todayKey != time.Now().Format("2006-01-02") {
		return 0
	}
	return s.extractedToday
}

func (s *Scheduler) countExtraction(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := now.Format("2006-01-02")
	if key != s.todayKey {
		s.todayKey = key
		s.extractedToday = 0
	}
	s.extractedToday++
}
