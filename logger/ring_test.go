package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func ringLogger(r *Ring) *zap.SugaredLogger {
	return zap.New(r.Core(zap.DebugLevel)).Sugar()
}

func TestRingCapBounded(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 10; i++ {
		r.Append(Entry{Message: string(rune('a' + i)), Timestamp: time.Now()})
	}
	entries := r.Tail(0, "", "")
	require.Len(t, entries, 4)
	// Oldest retained entry is the 7th appended.
	assert.Equal(t, "g", entries[0].Message)
	assert.Equal(t, "j", entries[3].Message)
}

func TestRingTailFilters(t *testing.T) {
	r := NewRing(16)
	log := ringLogger(r)
	log.Named("capture").Infow("screen tick", "count", 3)
	log.Named("capture").Warnw("ocr tool missing")
	log.Named("refiner").Infow("cycle complete")

	assert.Len(t, r.Tail(0, "warn", ""), 1)
	assert.Len(t, r.Tail(0, "", "capture"), 2)
	assert.Len(t, r.Tail(1, "", ""), 1)
}

func TestRingEntryCarriesFields(t *testing.T) {
	r := NewRing(8)
	log := ringLogger(r)
	log.Named("memory").Infow("memory saved", "id", "mem_1", "embedded", true)

	entries := r.Tail(0, "", "memory")
	require.Len(t, entries, 1)
	assert.Equal(t, "memory saved", entries[0].Message)
	assert.Equal(t, "mem_1", entries[0].Data["id"])
	assert.Equal(t, true, entries[0].Data["embedded"])
}

func TestRingSubscribeReceivesLive(t *testing.T) {
	r := NewRing(8)
	ch, cancel := r.Subscribe()
	defer cancel()

	r.Append(Entry{Message: "hello", Level: "info"})
	select {
	case e := <-ch:
		assert.Equal(t, "hello", e.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}
}

func TestRingCoreLevelGate(t *testing.T) {
	r := NewRing(8)
	log := zap.New(r.Core(zapcore.WarnLevel)).Sugar()
	log.Infow("dropped")
	log.Warnw("kept")
	entries := r.Tail(0, "", "")
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}
