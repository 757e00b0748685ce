package capture

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/signetai/signet/config"
)

type fakePipeline struct {
	meanDB float64
	tx     *transcription
}

func (f *fakePipeline) Record(_ context.Context, wavPath string) error {
	return os.WriteFile(wavPath, []byte("RIFF"), 0o644)
}

func (f *fakePipeline) MeanVolumeDB(context.Context, string) (float64, error) {
	return f.meanDB, nil
}

func (f *fakePipeline) Transcribe(context.Context, string) (*transcription, error) {
	return f.tx, nil
}

func newVoiceForTest(t *testing.T, cfg config.VoiceConfig, p voicePipeline) *VoiceAdapter {
	t.Helper()
	a := NewVoiceAdapter(cfg, testLogger())
	a.pipeline = p
	a.tempDir = t.TempDir()
	return a
}

func TestVoiceVADGateDropsSilence(t *testing.T) {
	// -80dB -> energy ~0.12, below the 0.3 default threshold.
	a := newVoiceForTest(t, config.VoiceConfig{}, &fakePipeline{
		meanDB: -80,
		tx:     &transcription{Text: "should never be stored"},
	})
	a.captureSegment(context.Background())
	assert.Equal(t, 0, a.GetCount())
}

func TestVoiceStoresSpeech(t *testing.T) {
	tx := &transcription{
		Text:     "discussed the Acme migration plan",
		Language: "en",
	}
	tx.Segments = append(tx.Segments, struct {
		NoSpeechProb float64 `json:"no_speech_prob"`
	}{0.1}, struct {
		NoSpeechProb float64 `json:"no_speech_prob"`
	}{0.3})

	a := newVoiceForTest(t, config.VoiceConfig{ExcludeKeywords: []string{"acme"}}, &fakePipeline{
		meanDB: -10, // energy ~0.89
		tx:     tx,
	})
	a.captureSegment(context.Background())

	segments := a.GetCaptures(time.Time{})
	if assert.Len(t, segments, 1) {
		s := segments[0]
		assert.InDelta(t, 0.8, s.Confidence, 1e-9, "1 - mean(no_speech_prob)")
		assert.Equal(t, "discussed the [redacted] migration plan", s.Transcript)
		assert.Equal(t, "en", s.Language)
		assert.True(t, s.IsSpeaking)
	}
}

func TestVoiceDefaultConfidenceWithoutSegments(t *testing.T) {
	a := newVoiceForTest(t, config.VoiceConfig{}, &fakePipeline{
		meanDB: -10,
		tx:     &transcription{Text: "hello there", Language: "en"},
	})
	a.captureSegment(context.Background())

	segments := a.GetCaptures(time.Time{})
	if assert.Len(t, segments, 1) {
		assert.Equal(t, 0.5, segments[0].Confidence)
	}
}
