// Package capture observes the user's machine through five adapters
// (screen, files, terminal, git comms, voice), each feeding a bounded
// in-memory FIFO that the refiner scheduler reads in time windows.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FIFOCap bounds every adapter store; on overflow the oldest events drop.
const FIFOCap = 10000

// Meta is the common header of every capture event.
type Meta struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// When returns the event timestamp.
func (m Meta) When() time.Time { return m.Timestamp }

// NewMeta stamps a fresh event header.
func NewMeta(ts time.Time) Meta {
	return Meta{ID: uuid.NewString(), Timestamp: ts.UTC()}
}

// ScreenCapture is one OCR snapshot of the focused window.
type ScreenCapture struct {
	Meta
	FocusedApp    string `json:"focusedApp"`
	FocusedWindow string `json:"focusedWindow"`
	BundleID      string `json:"bundleId,omitempty"`
	OCRText       string `json:"ocrText"`
}

// FileActivity is one filesystem event under a watched directory.
type FileActivity struct {
	Meta
	EventType string `json:"eventType"` // create, modify, delete
	FilePath  string `json:"filePath"`
	FileType  string `json:"fileType"`
	IsGitRepo bool   `json:"isGitRepo"`
	GitBranch string `json:"gitBranch,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// TerminalCapture is one shell command observed in a history file.
type TerminalCapture struct {
	Meta
	Command          string `json:"command"`
	WorkingDirectory string `json:"workingDirectory"`
	Shell            string `json:"shell"` // zsh, bash
}

// CommCapture is one git commit observed in a watched repository.
type CommCapture struct {
	Meta
	Source   string       `json:"source"` // always "git_commit"
	Content  string       `json:"content"`
	Metadata CommMetadata `json:"metadata"`
}

// CommMetadata locates a commit.
type CommMetadata struct {
	Repo       string `json:"repo"`
	RepoPath   string `json:"repoPath"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commitHash"`
	Author     string `json:"author"`
}

// VoiceSegment is one transcribed recording window.
type VoiceSegment struct {
	Meta
	DurationSeconds float64 `json:"durationSeconds"`
	Transcript      string  `json:"transcript"`
	Confidence      float64 `json:"confidence"`
	Language        string  `json:"language"`
	IsSpeaking      bool    `json:"isSpeaking"`
}

// Bundle is a point-in-time read view across all adapters.
type Bundle struct {
	Screen   []ScreenCapture   `json:"screen"`
	Voice    []VoiceSegment    `json:"voice"`
	Files    []FileActivity    `json:"files"`
	Terminal []TerminalCapture `json:"terminal"`
	Comms    []CommCapture     `json:"comms"`
	Since    time.Time         `json:"since"`
	Until    time.Time         `json:"until"`
}

// Total counts events across all variants.
func (b *Bundle) Total() int {
	return len(b.Screen) + len(b.Voice) + len(b.Files) + len(b.Terminal) + len(b.Comms)
}

// Adapter is the capability contract every capture source implements.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	GetCount() int
	TrimCaptures(cutoff time.Time) int
}

type timed interface {
	When() time.Time
}

// fifo is a bounded, time-ordered event buffer. Single writer (the owning
// adapter), many readers; reads copy so callers never hold the lock.
type fifo[T timed] struct {
	mu    sync.Mutex
	items []T
}

// append adds an event and head-drops on overflow. Adapters stamp events
// in observation order, keeping the buffer non-decreasing by timestamp.
func (f *fifo[T]) append(ev T) T {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, ev)
	if len(f.items) > FIFOCap {
		f.items = f.items[len(f.items)-FIFOCap:]
	}
	return ev
}

// since returns a copy of all events with timestamp >= t.
func (f *fifo[T]) since(t time.Time) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := len(f.items)
	for i, ev := range f.items {
		if !ev.When().Before(t) {
			start = i
			break
		}
	}
	out := make([]T, len(f.items)-start)
	copy(out, f.items[start:])
	return out
}

func (f *fifo[T]) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// trim drops all events older than cutoff and returns how many went.
func (f *fifo[T]) trim(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := len(f.items)
	for i, ev := range f.items {
		if !ev.When().Before(cutoff) {
			keep = i
			break
		}
	}
	if keep == 0 {
		return 0
	}
	dropped := keep
	f.items = append([]T(nil), f.items[keep:]...)
	return dropped
}

func (f *fifo[T]) last() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	if len(f.items) == 0 {
		return zero, false
	}
	return f.items[len(f.items)-1], true
}
