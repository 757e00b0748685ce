package capture

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/config"
)

const cleanupInterval = time.Hour

// Manager owns the adapter set: it starts what the config enables, runs
// the hourly retention sweep, and assembles bundles for the scheduler.
type Manager struct {
	cfg    config.PerceptionConfig
	logger *zap.SugaredLogger

	screen   *ScreenAdapter
	files    *FilesAdapter
	terminal *TerminalAdapter
	comms    *CommsAdapter
	voice    *VoiceAdapter

	mu      sync.Mutex
	running []Adapter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds all adapters. Nothing starts until Start.
func NewManager(cfg config.PerceptionConfig, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		screen:   NewScreenAdapter(cfg.Screen, logger),
		files:    NewFilesAdapter(cfg.Files, logger),
		terminal: NewTerminalAdapter(cfg.Terminal, logger),
		comms:    NewCommsAdapter(cfg.Comms, logger),
		voice:    NewVoiceAdapter(cfg.Voice, logger),
	}
}

// Start launches every enabled adapter plus the cleanup timer. An adapter
// that fails to start is logged and left disabled; the rest continue.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	candidates := []struct {
		adapter Adapter
		enabled bool
	}{
		{m.screen, m.cfg.Screen.Enabled},
		{m.files, m.cfg.Files.Enabled},
		{m.terminal, m.cfg.Terminal.Enabled},
		{m.comms, m.cfg.Comms.Enabled},
		{m.voice, m.cfg.Voice.Enabled},
	}

	for _, c := range candidates {
		if !c.enabled {
			continue
		}
		if err := c.adapter.Start(ctx); err != nil {
			m.logger.Warnw("Capture adapter failed to start, disabled",
				"adapter", c.adapter.Name(), "error", err)
			continue
		}
		m.mu.Lock()
		m.running = append(m.running, c.adapter)
		m.mu.Unlock()
		m.logger.Infow("Capture adapter started", "adapter", c.adapter.Name())
	}

	m.wg.Add(1)
	go m.cleanupLoop(ctx)
}

// Stop shuts down adapters in reverse start order, then the cleanup timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	running := make([]Adapter, len(m.running))
	copy(running, m.running)
	m.running = nil
	m.mu.Unlock()

	for i := len(running) - 1; i >= 0; i-- {
		running[i].Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Infow("Capture manager stopped")
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCleanup()
		}
	}
}

func (m *Manager) runCleanup() {
	retention := m.cfg.MaxRetentionDays
	if retention <= 0 {
		retention = 7
	}
	cutoff := time.Now().UTC().Add(-time.Duration(retention) * 24 * time.Hour)

	m.mu.Lock()
	running := make([]Adapter, len(m.running))
	copy(running, m.running)
	m.mu.Unlock()

	for _, a := range running {
		if trimmed := a.TrimCaptures(cutoff); trimmed > 0 {
			m.logger.Infow("Trimmed old captures",
				"adapter", a.Name(), "trimmed", trimmed, "remaining", a.GetCount())
		}
	}
}

// SetFileExclusions applies new file exclusion patterns to the running
// files adapter without a restart.
func (m *Manager) SetFileExclusions(patterns []string) {
	m.files.SetExcludePatterns(patterns)
}

// GetRecentCaptures assembles a bundle of every event since the given time.
func (m *Manager) GetRecentCaptures(since time.Time) *Bundle {
	return &Bundle{
		Screen:   m.screen.GetCaptures(since),
		Voice:    m.voice.GetCaptures(since),
		Files:    m.files.GetCaptures(since),
		Terminal: m.terminal.GetCaptures(since),
		Comms:    m.comms.GetCaptures(since),
		Since:    since,
		Until:    time.Now().UTC(),
	}
}

// GetCounts reports per-adapter buffer sizes for the status surface.
func (m *Manager) GetCounts() map[string]int {
	return map[string]int{
		m.screen.Name():   m.screen.GetCount(),
		m.files.Name():    m.files.GetCount(),
		m.terminal.Name(): m.terminal.GetCount(),
		m.comms.Name():    m.comms.GetCount(),
		m.voice.Name():    m.voice.GetCount(),
	}
}
