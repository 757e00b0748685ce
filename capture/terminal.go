package capture

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/redact"
)

const terminalPollInterval = 5 * time.Second

// zsh extended history: ": <unix_ts>:<duration>;<command>"
var zshExtendedLine = regexp.MustCompile(`^: (\d+):(\d+);(.*)$`)

// TerminalAdapter tails shell history files and records new commands.
type TerminalAdapter struct {
	cfg    config.TerminalConfig
	logger *zap.SugaredLogger
	store  fifo[TerminalCapture]

	// historyFiles overridable in tests; defaults to the user's home.
	historyFiles map[string]string // path -> shell name
	lineCounts   map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTerminalAdapter builds the adapter over the default history files.
func NewTerminalAdapter(cfg config.TerminalConfig, logger *zap.SugaredLogger) *TerminalAdapter {
	home, _ := os.UserHomeDir()
	return &TerminalAdapter{
		cfg:    cfg,
		logger: logger,
		historyFiles: map[string]string{
			filepath.Join(home, ".zsh_history"):  "zsh",
			filepath.Join(home, ".bash_history"): "bash",
		},
		lineCounts: make(map[string]int),
	}
}

func (a *TerminalAdapter) Name() string { return "terminal" }

// Start primes the per-file line counts so only commands typed after start
// are captured, then begins polling.
func (a *TerminalAdapter) Start(ctx context.Context) error {
	for path := range a.historyFiles {
		a.lineCounts[path] = countLines(path)
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	return nil
}

func (a *TerminalAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *TerminalAdapter) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(terminalPollInterval)
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

func (a *TerminalAdapter) poll() {
	for path, shell := range a.historyFiles {
		a.pollFile(path, shell)
	}
}

func (a *TerminalAdapter) pollFile(path, shell string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	seen := a.lineCounts[path]
	lineNo := 0
	lastTS := time.Time{}
	if tail, ok := a.store.last(); ok {
		lastTS = tail.Timestamp
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		if lineNo <= seen {
			continue
		}
		cmd, ts := parseHistoryLine(scanner.Text(), shell)
		if ts.IsZero() {
			ts = time.Now()
		}
		// Keep the buffer time-monotone even when history files carry
		// interleaved timestamps from other sessions.
		if ts.Before(lastTS) {
			ts = lastTS
		}
		if capture, ok := a.makeCapture(cmd, shell, ts); ok {
			a.store.append(capture)
			lastTS = capture.Timestamp
		}
	}
	if lineNo > seen {
		a.lineCounts[path] = lineNo
	}
}

// parseHistoryLine extracts the command and, for zsh extended history,
// its original timestamp.
func parseHistoryLine(line, shell string) (string, time.Time) {
	line = strings.TrimSpace(line)
	if shell == "zsh" {
		if m := zshExtendedLine.FindStringSubmatch(line); m != nil {
			ts, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil {
				return m[3], time.Unix(ts, 0).UTC()
			}
			return m[3], time.Time{}
		}
	}
	return line, time.Time{}
}

func (a *TerminalAdapter) makeCapture(cmd, shell string, ts time.Time) (TerminalCapture, bool) {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) < 2 {
		return TerminalCapture{}, false
	}

	redacted := redact.Command(cmd)
	if redacted == cmd {
		// Exclusions never apply to redacted commands; the marker is
		// always worth keeping as a signal.
		for _, excl := range a.cfg.ExcludeCommands {
			if excl != "" && strings.Contains(cmd, excl) {
				return TerminalCapture{}, false
			}
		}
	} else if a.logger != nil {
		program := ""
		if words, err := shellquote.Split(cmd); err == nil && len(words) > 0 {
			program = words[0]
		}
		a.logger.Debugw("Sensitive command redacted", "shell", shell, "program", program)
	}

	wd, _ := os.UserHomeDir()
	return TerminalCapture{
		Meta:             NewMeta(ts),
		Command:          redacted,
		WorkingDirectory: wd,
		Shell:            shell,
	}, true
}

// GetCaptures returns events at or after since.
func (a *TerminalAdapter) GetCaptures(since time.Time) []TerminalCapture {
	return a.store.since(since)
}

func (a *TerminalAdapter) GetCount() int { return a.store.len() }

func (a *TerminalAdapter) TrimCaptures(cutoff time.Time) int { return a.store.trim(cutoff) }

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		n++
	}
	return n
}
