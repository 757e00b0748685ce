package capture

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/internal/util"
	"github.com/signetai/signet/redact"
)

const (
	segmentSeconds = 10
	// Slightly longer than the segment so consecutive recordings never
	// contend for the input device.
	voiceTriggerInterval = 10500 * time.Millisecond

	recordTimeout     = (segmentSeconds + 5) * time.Second
	vadTimeout        = 10 * time.Second
	transcribeTimeout = 30 * time.Second

	defaultVADThreshold = 0.3
)

var meanVolumePattern = regexp.MustCompile(`mean_volume:\s*(-?[\d.]+)\s*dB`)

// transcription is the speech-to-text tool's JSON output.
type transcription struct {
	Text     string `json:"text"`
	Segments []struct {
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
	Language string `json:"language"`
}

// voicePipeline abstracts the recorder, VAD, and transcriber for tests.
type voicePipeline interface {
	Record(ctx context.Context, wavPath string) error
	MeanVolumeDB(ctx context.Context, wavPath string) (float64, error)
	Transcribe(ctx context.Context, wavPath string) (*transcription, error)
}

// VoiceAdapter records short segments, gates them on voice activity, and
// stores redacted transcripts. Disabled by default.
type VoiceAdapter struct {
	cfg      config.VoiceConfig
	logger   *zap.SugaredLogger
	store    fifo[VoiceSegment]
	pipeline voicePipeline

	tempDir string
	// inFlight guards against overlapping segments: a trigger that fires
	// while the prior capture is still running is dropped.
	inFlight atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewVoiceAdapter builds the adapter; tools and temp dir resolve at Start.
func NewVoiceAdapter(cfg config.VoiceConfig, logger *zap.SugaredLogger) *VoiceAdapter {
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = defaultVADThreshold
	}
	return &VoiceAdapter{cfg: cfg, logger: logger}
}

func (a *VoiceAdapter) Name() string { return "voice" }

func (a *VoiceAdapter) Start(ctx context.Context) error {
	tempDir, err := os.MkdirTemp("", "signet-voice-*")
	if err != nil {
		return errors.Wrap(err, "create voice temp dir")
	}
	a.tempDir = tempDir

	if a.pipeline == nil {
		p, err := newFFmpegPipeline(a.cfg.Model)
		if err != nil {
			os.RemoveAll(tempDir)
			return err
		}
		a.pipeline = p
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	return nil
}

// Stop ends the trigger loop and removes the private temp directory.
func (a *VoiceAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.tempDir != "" {
		os.RemoveAll(a.tempDir)
	}
}

func (a *VoiceAdapter) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(voiceTriggerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.inFlight.CompareAndSwap(false, true) {
				continue
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				defer a.inFlight.Store(false)
				a.captureSegment(ctx)
			}()
		}
	}
}

func (a *VoiceAdapter) captureSegment(ctx context.Context) {
	wavPath := filepath.Join(a.tempDir, "segment-"+strconv.FormatInt(time.Now().UnixNano(), 10)+".wav")
	defer os.Remove(wavPath)

	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	err := a.pipeline.Record(recordCtx, wavPath)
	cancel()
	if err != nil {
		a.logger.Debugw("Voice recording failed", "error", err)
		return
	}

	vadCtx, cancel := context.WithTimeout(ctx, vadTimeout)
	meanDB, err := a.pipeline.MeanVolumeDB(vadCtx, wavPath)
	cancel()
	if err != nil {
		a.logger.Debugw("VAD pass failed", "error", err)
		return
	}
	energy := util.Clamp((meanDB+91)/91, 0, 1)
	if energy < a.cfg.VADThreshold {
		return
	}

	txCtx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	tx, err := a.pipeline.Transcribe(txCtx, wavPath)
	cancel()
	if err != nil {
		a.logger.Debugw("Transcription failed", "error", err)
		return
	}
	if tx.Text == "" {
		return
	}

	confidence := 0.5
	if len(tx.Segments) > 0 {
		sum := 0.0
		for _, s := range tx.Segments {
			sum += s.NoSpeechProb
		}
		confidence = util.Clamp(1-sum/float64(len(tx.Segments)), 0, 1)
	}

	a.store.append(VoiceSegment{
		Meta:            NewMeta(time.Now()),
		DurationSeconds: segmentSeconds,
		Transcript:      redact.Keywords(tx.Text, a.cfg.ExcludeKeywords),
		Confidence:      confidence,
		Language:        tx.Language,
		IsSpeaking:      true,
	})
}

// GetCaptures returns events at or after since.
func (a *VoiceAdapter) GetCaptures(since time.Time) []VoiceSegment {
	return a.store.since(since)
}

func (a *VoiceAdapter) GetCount() int { return a.store.len() }

func (a *VoiceAdapter) TrimCaptures(cutoff time.Time) int { return a.store.trim(cutoff) }

// ffmpegPipeline shells out to ffmpeg for recording and VAD and to a
// whisper-compatible CLI for transcription.
type ffmpegPipeline struct {
	ffmpeg  string
	whisper string
	model   string
}

func newFFmpegPipeline(model string) (*ffmpegPipeline, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errors.New("ffmpeg not found in PATH")
	}
	whisper, err := exec.LookPath("whisper")
	if err != nil {
		return nil, errors.New("whisper not found in PATH")
	}
	if model == "" {
		model = "base"
	}
	return &ffmpegPipeline{ffmpeg: ffmpeg, whisper: whisper, model: model}, nil
}

func (p *ffmpegPipeline) Record(ctx context.Context, wavPath string) error {
	cmd := exec.CommandContext(ctx, p.ffmpeg,
		"-f", defaultAudioInput(), "-i", "default",
		"-t", strconv.Itoa(segmentSeconds),
		"-ac", "1", "-ar", "16000",
		"-y", wavPath,
	)
	return errors.Wrap(cmd.Run(), "record segment")
}

func (p *ffmpegPipeline) MeanVolumeDB(ctx context.Context, wavPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.ffmpeg,
		"-i", wavPath, "-af", "volumedetect", "-f", "null", "-",
	)
	// volumedetect reports on stderr.
	out, _ := cmd.CombinedOutput()
	m := meanVolumePattern.FindSubmatch(out)
	if m == nil {
		return 0, errors.New("mean_volume not found in volumedetect output")
	}
	return strconv.ParseFloat(string(m[1]), 64)
}

func (p *ffmpegPipeline) Transcribe(ctx context.Context, wavPath string) (*transcription, error) {
	outDir := filepath.Dir(wavPath)
	cmd := exec.CommandContext(ctx, p.whisper, wavPath,
		"--model", p.model,
		"--output_format", "json",
		"--output_dir", outDir,
	)
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrap(err, "run whisper")
	}

	jsonPath := wavPath[:len(wavPath)-len(".wav")] + ".json"
	defer os.Remove(jsonPath)
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "read whisper output")
	}
	var tx transcription
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, errors.Wrap(err, "parse whisper output")
	}
	return &tx, nil
}

func defaultAudioInput() string {
	// avfoundation on macOS, pulse elsewhere; ffmpeg ignores the wrong
	// one with a clear error that the debug log surfaces.
	if _, err := os.Stat("/System/Library/CoreServices"); err == nil {
		return "avfoundation"
	}
	return "pulse"
}
