package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/pipeline"
)

type fakeResult struct {
	stats domain.PipelineStats
	err   error
}

// fakePipeline records the params of each call and replays a script of
// results. The last entry repeats once the script runs out.
type fakePipeline struct {
	calls  []pipeline.RunParams
	script []fakeResult
}

func (f *fakePipeline) Run(_ context.Context, params pipeline.RunParams) (domain.PipelineStats, error) {
	f.calls = append(f.calls, params)
	if len(f.script) == 0 {
		return domain.PipelineStats{}, nil
	}
	res := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return res.stats, res.err
}

type fakeAlerter struct {
	startups    [][]string
	shutdowns   []string
	zeroStreaks []int
	zeroSources [][]string
	crashCounts []int
	crashErrs   []error
}

func (f *fakeAlerter) Startup(_ context.Context, searches []string) {
	f.startups = append(f.startups, searches)
}

func (f *fakeAlerter) Shutdown(_ context.Context, reason string) {
	f.shutdowns = append(f.shutdowns, reason)
}

func (f *fakeAlerter) ZeroYield(_ context.Context, streak int, sources []string) {
	f.zeroStreaks = append(f.zeroStreaks, streak)
	f.zeroSources = append(f.zeroSources, sources)
}

func (f *fakeAlerter) CrashStreak(_ context.Context, count int, err error) {
	f.crashCounts = append(f.crashCounts, count)
	f.crashErrs = append(f.crashErrs, err)
}

func yieldOf(scanned, notified int) fakeResult {
	return fakeResult{stats: domain.PipelineStats{IndexScanned: scanned, IndexNew: scanned, Notified: notified}}
}

func zeroYield() fakeResult {
	return fakeResult{}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "searches.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newTestRunner(t *testing.T, path string, fp *fakePipeline, fa *fakeAlerter) *Runner {
	t.Helper()
	r := New(Config{
		Pipeline:   fp,
		Alerter:    fa,
		Logger:     zerolog.Nop(),
		ConfigPath: path,
	})
	r.jitter = func(time.Duration) time.Duration { return 0 }
	return r
}

// cancelAfter returns a sleep seam that records every requested duration
// and cancels the run once n sleeps happened.
func cancelAfter(n int, cancel context.CancelFunc, sleeps *[]time.Duration) func(context.Context, time.Duration) bool {
	return func(_ context.Context, d time.Duration) bool {
		*sleeps = append(*sleeps, d)
		if len(*sleeps) >= n {
			cancel()
			return false
		}
		return true
	}
}

func TestRunOnceRunsSearchesInFileOrder(t *testing.T) {
	path := writeConfig(t, `
runner:
  delay_between_searches_sec: 1
  max_detail_per_run: 7
searches:
  - name: peugeot-207
    enabled: true
    sources: [leboncoin, autoscout24]
    max_pages: 3
    detail_threshold: 45
    notify_threshold: 65
  - name: clio-3
    enabled: true
    sources: [lacentrale]
  - name: dormante
    enabled: false
    sources: [leboncoin]
`)
	fp := &fakePipeline{script: []fakeResult{yieldOf(4, 1), yieldOf(2, 0)}}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	var pauses []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) bool {
		pauses = append(pauses, d)
		return true
	}

	stats, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, fp.calls, 2, "the disabled search must not run")

	first := fp.calls[0]
	assert.Equal(t, []domain.Source{domain.SourceLeboncoin, domain.SourceAutoScout24}, first.Sources)
	assert.Equal(t, 3, first.MaxPages)
	assert.Equal(t, 45, first.DetailThreshold)
	assert.Equal(t, 65, first.NotifyThreshold)
	assert.Equal(t, 7, first.MaxDetailPerRun)

	second := fp.calls[1]
	assert.Equal(t, []domain.Source{domain.SourceLaCentrale}, second.Sources)
	assert.Equal(t, 2, second.MaxPages, "unset max_pages falls back to two pages")
	assert.Zero(t, second.DetailThreshold, "unset thresholds stay zero so the pipeline applies its own")
	assert.Zero(t, second.NotifyThreshold)
	assert.Equal(t, 7, second.MaxDetailPerRun)

	assert.Equal(t, []time.Duration{time.Second}, pauses, "one pause between two searches, none after the last")

	assert.Equal(t, 6, stats.IndexScanned)
	assert.Equal(t, 1, stats.Notified)
}

func TestZeroCyclesBackOffAndAlertOnce(t *testing.T) {
	path := writeConfig(t, `
runner:
  scan_interval_sec: 1
  backoff_multiplier: 2
  backoff_max_sec: 4
  zero_listings_threshold: 2
searches:
  - name: peugeot-207
    enabled: true
    sources: [leboncoin]
`)
	fp := &fakePipeline{script: []fakeResult{zeroYield()}}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = cancelAfter(5, cancel, &sleeps)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	want := []time.Duration{
		1 * time.Second, // streak below threshold, plain interval
		2 * time.Second, // threshold hit, backoff seeded with the interval
		3 * time.Second, // doubled to 2s
		5 * time.Second, // doubled to 4s
		5 * time.Second, // capped at backoff_max
	}
	assert.Equal(t, want, sleeps)

	assert.Equal(t, []int{2}, fa.zeroStreaks, "alert once at the threshold, then damped")
	require.Len(t, fa.zeroSources, 1)
	assert.Equal(t, []string{"leboncoin"}, fa.zeroSources[0])
}

func TestYieldResetsBackoff(t *testing.T) {
	path := writeConfig(t, `
runner:
  scan_interval_sec: 1
  backoff_multiplier: 2
  zero_listings_threshold: 1
searches:
  - name: peugeot-207
    enabled: true
    sources: [leboncoin]
`)
	fp := &fakePipeline{script: []fakeResult{zeroYield(), zeroYield(), yieldOf(3, 0)}}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = cancelAfter(3, cancel, &sleeps)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	want := []time.Duration{
		2 * time.Second, // first empty cycle already past threshold 1
		3 * time.Second, // backoff doubled
		1 * time.Second, // listings came back, backoff cleared
	}
	assert.Equal(t, want, sleeps)
	assert.Equal(t, []int{1}, fa.zeroStreaks)
}

func TestRepeatedFailuresRaiseCrashAlert(t *testing.T) {
	path := writeConfig(t, `
runner:
  scan_interval_sec: 1
  backoff_multiplier: 2
  backoff_max_sec: 4
searches:
  - name: peugeot-207
    enabled: true
    sources: [leboncoin]
`)
	bang := errors.New("proxy pool exhausted")
	fp := &fakePipeline{script: []fakeResult{{err: bang}}}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = cancelAfter(3, cancel, &sleeps)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}, sleeps,
		"failed cycles back off like empty ones")
	require.Equal(t, []int{3}, fa.crashCounts, "alert fires at the third consecutive failure")
	assert.ErrorIs(t, fa.crashErrs[0], bang)
}

func TestSuccessResetsCrashStreak(t *testing.T) {
	path := writeConfig(t, `
runner:
  scan_interval_sec: 1
  backoff_multiplier: 2
searches:
  - name: peugeot-207
    enabled: true
    sources: [leboncoin]
`)
	bang := errors.New("temporary outage")
	fp := &fakePipeline{script: []fakeResult{{err: bang}, {err: bang}, yieldOf(2, 0)}}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = cancelAfter(3, cancel, &sleeps)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, fa.crashCounts, "two failures then a recovery never reaches the alert threshold")
	assert.Equal(t, time.Second, sleeps[2], "recovery clears the accumulated backoff")
}

func TestStartupAndShutdownNotices(t *testing.T) {
	path := writeConfig(t, `
searches:
  - name: peugeot-207
    enabled: true
    sources: [leboncoin]
  - name: clio-3
    enabled: true
    sources: [lacentrale]
`)
	fp := &fakePipeline{}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, fa.startups, 1)
	assert.Equal(t, []string{"peugeot-207", "clio-3"}, fa.startups[0])
	assert.Equal(t, []string{"arrêt normal"}, fa.shutdowns)
	assert.Empty(t, fp.calls, "a cancelled context runs no search")
}

func TestRunOnceMissingConfigFails(t *testing.T) {
	fp := &fakePipeline{}
	r := newTestRunner(t, filepath.Join(t.TempDir(), "absent.yaml"), fp, &fakeAlerter{})

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "searches config")
	assert.Empty(t, fp.calls)
}

func TestDisabledSearchesIdleWithoutBackoff(t *testing.T) {
	path := writeConfig(t, `
runner:
  scan_interval_sec: 1
  zero_listings_threshold: 1
searches:
  - name: dormante
    enabled: false
    sources: [leboncoin]
`)
	fp := &fakePipeline{}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = cancelAfter(3, cancel, &sleeps)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, fp.calls)
	assert.Empty(t, fa.zeroStreaks, "idle cycles are not zero-yield cycles")
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, sleeps)
}

func TestConfigReloadedEveryCycle(t *testing.T) {
	path := writeConfig(t, `
runner:
  scan_interval_sec: 1
searches:
  - name: peugeot-207
    enabled: true
    sources: [leboncoin]
`)
	fp := &fakePipeline{script: []fakeResult{yieldOf(1, 0)}}
	fa := &fakeAlerter{}
	r := newTestRunner(t, path, fp, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		if len(sleeps) == 1 {
			// Swap the file between cycles; the second cycle must pick
			// up the new search list.
			require.NoError(t, os.WriteFile(path, []byte(`
runner:
  scan_interval_sec: 1
searches:
  - name: clio-3
    enabled: true
    sources: [lacentrale, autoscout24]
`), 0o644))
			return true
		}
		cancel()
		return false
	}

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, fp.calls, 2)
	assert.Equal(t, []domain.Source{domain.SourceLeboncoin}, fp.calls[0].Sources)
	assert.Equal(t, []domain.Source{domain.SourceLaCentrale, domain.SourceAutoScout24}, fp.calls[1].Sources)
}
