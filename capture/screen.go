package capture

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/internal/util"
)

const (
	ocrMaxChars       = 10000
	screenToolTimeout = 30 * time.Second
	dedupJaccard      = 0.8
)

// screenObservation is what the capture tool reports for one tick.
type screenObservation struct {
	App      string `json:"app"`
	Window   string `json:"window"`
	BundleID string `json:"bundleId"`
	OCRText  string `json:"ocrText"`
}

// screenSource abstracts the external capture tool for testability.
type screenSource interface {
	Capture(ctx context.Context) (*screenObservation, error)
}

// ScreenAdapter snapshots the focused window on a timer and OCRs it.
type ScreenAdapter struct {
	cfg    config.ScreenConfig
	logger *zap.SugaredLogger
	store  fifo[ScreenCapture]
	source screenSource

	// Dedup state, single-writer from the tick loop.
	lastApp              string
	lastWindow           string
	lastOCRTokens        []string
	consecutiveSameCount int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScreenAdapter builds the adapter; the capture tool is resolved at Start.
func NewScreenAdapter(cfg config.ScreenConfig, logger *zap.SugaredLogger) *ScreenAdapter {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 30
	}
	return &ScreenAdapter{cfg: cfg, logger: logger}
}

func (a *ScreenAdapter) Name() string { return "screen" }

// Start resolves the capture tool and launches the tick loop.
func (a *ScreenAdapter) Start(ctx context.Context) error {
	if a.source == nil {
		tool, err := discoverScreenTool()
		if err != nil {
			return err
		}
		a.source = &cliScreenSource{tool: tool}
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	return nil
}

func (a *ScreenAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *ScreenAdapter) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Duration(a.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *ScreenAdapter) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, screenToolTimeout)
	defer cancel()

	obs, err := a.source.Capture(ctx)
	if err != nil {
		a.logger.Debugw("Screen capture failed", "error", err)
		return
	}
	a.observe(obs, time.Now())
}

// observe applies exclusion and dedup, then stores the capture. Split from
// tick so tests can drive it directly.
func (a *ScreenAdapter) observe(obs *screenObservation, now time.Time) {
	if a.excluded(obs.App, obs.Window) {
		return
	}

	ocr := obs.OCRText
	if len(ocr) > ocrMaxChars {
		ocr = ocr[:ocrMaxChars]
	}
	tokens := util.Tokens(ocr)

	if obs.App == a.lastApp && obs.Window == a.lastWindow {
		a.consecutiveSameCount++
		if util.Jaccard(tokens, a.lastOCRTokens) > dedupJaccard {
			a.logger.Debugw("Screen capture deduplicated",
				"app", obs.App, "window", obs.Window, "streak", a.consecutiveSameCount)
			return
		}
	} else {
		a.consecutiveSameCount = 1
	}
	a.lastApp = obs.App
	a.lastWindow = obs.Window
	a.lastOCRTokens = tokens

	a.store.append(ScreenCapture{
		Meta:          NewMeta(now),
		FocusedApp:    obs.App,
		FocusedWindow: obs.Window,
		BundleID:      obs.BundleID,
		OCRText:       ocr,
	})
}

func (a *ScreenAdapter) excluded(app, window string) bool {
	for _, p := range a.cfg.ExcludeApps {
		if containsFold(app, p) {
			return true
		}
	}
	for _, p := range a.cfg.ExcludeWindows {
		if containsFold(window, p) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// GetCaptures returns events at or after since.
func (a *ScreenAdapter) GetCaptures(since time.Time) []ScreenCapture {
	return a.store.since(since)
}

func (a *ScreenAdapter) GetCount() int { return a.store.len() }

func (a *ScreenAdapter) TrimCaptures(cutoff time.Time) int { return a.store.trim(cutoff) }

// cliScreenSource shells out to the capture tool, which prints one JSON
// observation on stdout.
type cliScreenSource struct {
	tool string
}

func (c *cliScreenSource) Capture(ctx context.Context) (*screenObservation, error) {
	out, err := exec.CommandContext(ctx, c.tool, "--json").Output()
	if err != nil {
		return nil, errors.Wrap(err, "run screen tool")
	}
	var obs screenObservation
	if err := json.Unmarshal(out, &obs); err != nil {
		return nil, errors.Wrap(err, "parse screen tool output")
	}
	return &obs, nil
}

// discoverScreenTool resolves the capture binary: PATH first, then the
// well-known install locations, then give up.
func discoverScreenTool() (string, error) {
	const tool = "signet-screen"
	if path, err := exec.LookPath(tool); err == nil {
		return path, nil
	}
	home, _ := os.UserHomeDir()
	for _, candidate := range []string{
		"/usr/local/bin/" + tool,
		"/opt/homebrew/bin/" + tool,
		filepath.Join(home, ".agents", "bin", tool),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Newf("%s not found in PATH or known locations", tool)
}
