package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signetai/signet/config"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestFIFOCapBound(t *testing.T) {
	var f fifo[ScreenCapture]
	base := time.Now()
	for i := 0; i < FIFOCap+500; i++ {
		f.append(ScreenCapture{Meta: NewMeta(base.Add(time.Duration(i) * time.Second))})
	}
	assert.Equal(t, FIFOCap, f.len())

	// Head-drop: the oldest 500 are gone.
	all := f.since(time.Time{})
	assert.Equal(t, base.Add(500*time.Second).UTC().Unix(), all[0].Timestamp.Unix())
}

func TestFIFOTimeMonotone(t *testing.T) {
	var f fifo[TerminalCapture]
	base := time.Now()
	for i := 0; i < 100; i++ {
		f.append(TerminalCapture{Meta: NewMeta(base.Add(time.Duration(i) * time.Minute))})
	}
	all := f.since(time.Time{})
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp))
	}
}

func TestFIFOTrim(t *testing.T) {
	var f fifo[FileActivity]
	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		f.append(FileActivity{Meta: NewMeta(base.Add(time.Duration(i) * time.Hour))})
	}

	cutoff := base.Add(4 * time.Hour)
	pre := f.len()
	trimmed := f.trim(cutoff)
	assert.Equal(t, pre-f.len(), trimmed)
	assert.Equal(t, 4, trimmed)

	for _, ev := range f.since(time.Time{}) {
		assert.False(t, ev.Timestamp.Before(cutoff))
	}
}

func TestFIFOSinceFilters(t *testing.T) {
	var f fifo[ScreenCapture]
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		f.append(ScreenCapture{Meta: NewMeta(base.Add(time.Duration(i) * time.Minute))})
	}
	recent := f.since(base.Add(3 * time.Minute))
	assert.Len(t, recent, 2)
}

func TestScreenDedupScenario(t *testing.T) {
	// Three identical captures 30s apart collapse to one.
	a := NewScreenAdapter(config.ScreenConfig{IntervalSeconds: 30}, testLogger())
	base := time.Now()
	obs := &screenObservation{App: "Code", Window: "main.ts", OCRText: "export const x = 1;"}

	a.observe(obs, base)
	a.observe(obs, base.Add(30*time.Second))
	a.observe(obs, base.Add(60*time.Second))

	assert.Equal(t, 1, a.GetCount())
}

func TestScreenDedupResetsOnWindowChange(t *testing.T) {
	a := NewScreenAdapter(config.ScreenConfig{IntervalSeconds: 30}, testLogger())
	base := time.Now()

	a.observe(&screenObservation{App: "Code", Window: "main.ts", OCRText: "const a = 1"}, base)
	a.observe(&screenObservation{App: "Code", Window: "other.ts", OCRText: "const a = 1"}, base.Add(time.Second))
	a.observe(&screenObservation{App: "Code", Window: "main.ts", OCRText: "const a = 1"}, base.Add(2*time.Second))

	assert.Equal(t, 3, a.GetCount())
}

func TestScreenDedupKeepsChangedText(t *testing.T) {
	a := NewScreenAdapter(config.ScreenConfig{IntervalSeconds: 30}, testLogger())
	base := time.Now()

	a.observe(&screenObservation{App: "Code", Window: "main.ts", OCRText: "alpha bravo charlie delta"}, base)
	a.observe(&screenObservation{App: "Code", Window: "main.ts", OCRText: "totally different words here"}, base.Add(time.Second))

	assert.Equal(t, 2, a.GetCount())
}

func TestScreenExclusion(t *testing.T) {
	a := NewScreenAdapter(config.ScreenConfig{
		IntervalSeconds: 30,
		ExcludeApps:     []string{"1Password"},
		ExcludeWindows:  []string{"incognito"},
	}, testLogger())

	a.observe(&screenObservation{App: "1Password", Window: "vault", OCRText: "secret stuff"}, time.Now())
	a.observe(&screenObservation{App: "Chrome", Window: "Incognito - search", OCRText: "private"}, time.Now())
	a.observe(&screenObservation{App: "Chrome", Window: "docs", OCRText: "public"}, time.Now())

	assert.Equal(t, 1, a.GetCount())
}

func TestShouldIgnoreSegmentSemantics(t *testing.T) {
	a := NewFilesAdapter(config.FilesConfig{ExcludePatterns: []string{"dist"}}, testLogger())

	assert.True(t, a.ShouldIgnore("/x/node_modules/y"), "always-excluded")
	assert.True(t, a.ShouldIgnore("/x/dist/y"), "bare name matches a segment")
	assert.False(t, a.ShouldIgnore("/x/distribution/y"), "segment match, not substring")
}

func TestShouldIgnorePatternShapes(t *testing.T) {
	a := NewFilesAdapter(config.FilesConfig{
		ExcludePatterns: []string{"*.log", "tmp*", "build/cache"},
	}, testLogger())

	assert.True(t, a.ShouldIgnore("/home/u/app/server.log"), "*.ext suffix")
	assert.False(t, a.ShouldIgnore("/home/u/app/logger.go"))
	assert.True(t, a.ShouldIgnore("/x/tmpfiles/y"), "prefix* substring")
	assert.True(t, a.ShouldIgnore("/x/build/cache/obj"), "a/b path substring")
	assert.True(t, a.ShouldIgnore("/x/main.swp"))
	assert.True(t, a.ShouldIgnore("/x/notes.txt~"))
}

func TestParseZshHistoryLine(t *testing.T) {
	cmd, ts := parseHistoryLine(": 1700000000:5;git push origin main", "zsh")
	assert.Equal(t, "git push origin main", cmd)
	assert.Equal(t, int64(1700000000), ts.Unix())

	cmd, ts = parseHistoryLine("plain command", "zsh")
	assert.Equal(t, "plain command", cmd)
	assert.True(t, ts.IsZero())

	cmd, ts = parseHistoryLine("ls -la", "bash")
	assert.Equal(t, "ls -la", cmd)
	assert.True(t, ts.IsZero())
}

func TestTerminalRedactionScenario(t *testing.T) {
	a := NewTerminalAdapter(config.TerminalConfig{}, testLogger())

	capture, ok := a.makeCapture("export OPENAI_API_KEY=sk-abc123", "zsh", time.Now())
	require.True(t, ok)
	assert.Equal(t, "[REDACTED — sensitive command]", capture.Command)
	assert.NotContains(t, capture.Command, "sk-abc123")
}

func TestTerminalExclusionAndShortDrop(t *testing.T) {
	a := NewTerminalAdapter(config.TerminalConfig{ExcludeCommands: []string{"ls"}}, testLogger())

	_, ok := a.makeCapture("x", "bash", time.Now())
	assert.False(t, ok, "commands under 2 chars drop")

	_, ok = a.makeCapture("ls -la", "bash", time.Now())
	assert.False(t, ok, "configured exclusion")

	capture, ok := a.makeCapture("git status", "bash", time.Now())
	require.True(t, ok)
	assert.Equal(t, "git status", capture.Command)
	assert.Equal(t, "bash", capture.Shell)
}

func TestCommitSubject(t *testing.T) {
	assert.Equal(t, "fix race in watcher", commitSubject("fix race in watcher\n\nlong body here"))
	assert.Equal(t, "oneliner", commitSubject("oneliner"))
}

func TestManagerCountsAndBundle(t *testing.T) {
	m := NewManager(config.PerceptionConfig{}, testLogger())

	base := time.Now().Add(-time.Minute)
	m.screen.store.append(ScreenCapture{Meta: NewMeta(base), FocusedApp: "Code"})
	m.terminal.store.append(TerminalCapture{Meta: NewMeta(base), Command: "make test"})
	m.terminal.store.append(TerminalCapture{Meta: NewMeta(base.Add(time.Second)), Command: "make lint"})

	counts := m.GetCounts()
	assert.Equal(t, 1, counts["screen"])
	assert.Equal(t, 2, counts["terminal"])
	assert.Equal(t, 0, counts["voice"])

	bundle := m.GetRecentCaptures(base.Add(-time.Second))
	assert.Equal(t, 3, bundle.Total())
	assert.Len(t, bundle.Terminal, 2)
	assert.False(t, bundle.Until.IsZero())
}

func TestCommsResolveReposGlob(t *testing.T) {
	// dir/* expands to subdirectories containing .git only.
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha", ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-repo"), 0o755))

	a := NewCommsAdapter(config.CommsConfig{GitRepos: []string{root + "/*"}}, testLogger())
	repos := a.resolveRepos()
	require.Len(t, repos, 1)
	assert.Contains(t, repos[0], "alpha")
}
