package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/log"
	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/registry"
	"github.com/croplab/fieldrun/internal/simulator"
	"github.com/croplab/fieldrun/internal/site"
	"github.com/croplab/fieldrun/internal/workspace/mocks"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// funcExecutor adapts a bare function into an Executor.
type funcExecutor func(ctx context.Context, runID string, s *site.Site) (simulator.Status, error)

func (f funcExecutor) Execute(ctx context.Context, runID string, s *site.Site) (simulator.Status, error) {
	return f(ctx, runID, s)
}

// newTestEnv builds a workspace directory with n resolvable sites and returns
// the config plus the site IDs in table order.
func newTestEnv(t *testing.T, n int) (*config.Config, []string) {
	t.Helper()
	dir := t.TempDir()

	exe := filepath.Join(dir, "model.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	inputs := filepath.Join(dir, "inputs")
	require.NoError(t, os.MkdirAll(inputs, 0o755))

	table := "SiteID,opc,dly,soil\n"
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("s%d", i)
		ids = append(ids, id)
		table += fmt.Sprintf("%s,,,\n", id)
		for _, ext := range []string{".OPC", ".DLY", ".SOL", ".SIT"} {
			require.NoError(t, os.WriteFile(filepath.Join(inputs, id+ext), []byte(id), 0o644))
		}
	}
	info := filepath.Join(dir, "sites.csv")
	require.NoError(t, os.WriteFile(info, []byte(table), 0o644))

	cfg := config.Defaults()
	cfg.Dir = dir
	cfg.Model.Executable = exe
	cfg.Sites.Info = info
	cfg.Sites.ScheduleDir = inputs
	cfg.Sites.WeatherDir = inputs
	cfg.Sites.SoilDir = inputs
	cfg.Sites.SiteDir = inputs
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.Store.Path = filepath.Join(dir, "fieldrun.db")
	return cfg, ids
}

func openStore(t *testing.T, cfg *config.Config) *logstore.Store {
	t.Helper()
	store, err := logstore.Open(context.Background(), cfg.Store.Path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunMeanObjective(t *testing.T) {
	cfg, _ := newTestEnv(t, 5)
	store := openStore(t, cfg)

	// Error values per site; s3 never completes.
	values := map[string]float64{"s1": 2, "s2": 4, "s4": 6, "s5": 8}

	reg := registry.New()
	require.NoError(t, reg.AddRoutine("yield_error", func(s *site.Site) (logstore.Metrics, error) {
		return logstore.Metrics{"error": values[s.ID]}, nil
	}))
	require.NoError(t, reg.AddObjective("mean_error", func(ctx context.Context) ([]float64, error) {
		entries, err := store.Fetch(ctx, "yield_error")
		if err != nil {
			return nil, err
		}
		var sum float64
		var count int
		for _, e := range entries {
			if v, ok := e.Metrics["error"]; ok && !logstore.IsMissing(v) {
				sum += v
				count++
			}
		}
		if count == 0 {
			return []float64{1e30}, nil
		}
		return []float64{sum / float64(count)}, nil
	}))

	ws, err := New(cfg, store, reg)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, s *site.Site) (simulator.Status, error) {
			if s.ID == "s3" {
				return simulator.StatusTimedOut, fmt.Errorf("timed out after 300s")
			}
			return simulator.StatusCompleted, nil
		}).Times(5)
	ws.SetExecutor(exec)

	result, err := ws.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Fitness, 1)
	assert.InDelta(t, 5.0, result.Fitness[0], 1e-9)
	assert.Equal(t, 5, result.Summary.Selected)
	assert.Equal(t, 4, result.Summary.Completed)
	assert.Equal(t, 1, result.Summary.TimedOut)
	assert.Equal(t, 0, result.Summary.Failed)
	assert.NotEmpty(t, result.RunID)
	assert.Contains(t, result.Fingerprint, "blake3:")

	// The timed-out site must contribute no metric row.
	entries, err := store.Fetch(context.Background(), "yield_error")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestRunRoutineFailureIsolated(t *testing.T) {
	cfg, _ := newTestEnv(t, 3)
	store := openStore(t, cfg)

	reg := registry.New()
	require.NoError(t, reg.AddRoutine("flaky", func(s *site.Site) (logstore.Metrics, error) {
		if s.ID == "s2" {
			return nil, fmt.Errorf("no output parsed")
		}
		return logstore.Metrics{"v": 1}, nil
	}))
	require.NoError(t, reg.AddRoutine("panicky", func(s *site.Site) (logstore.Metrics, error) {
		if s.ID == "s2" {
			panic("index out of range")
		}
		return logstore.Metrics{"v": 2}, nil
	}))

	ws, err := New(cfg, store, reg)
	require.NoError(t, err)
	ws.SetExecutor(funcExecutor(func(context.Context, string, *site.Site) (simulator.Status, error) {
		return simulator.StatusCompleted, nil
	}))

	result, err := ws.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Summary.Completed)

	for _, routine := range []string{"flaky", "panicky"} {
		entries, err := store.Fetch(context.Background(), routine)
		require.NoError(t, err)
		require.Len(t, entries, 3, routine)
		for _, e := range entries {
			if e.SiteID == "s2" {
				assert.True(t, e.Metrics.AllMissing(), "failed routine must leave an all-missing row")
			} else {
				assert.False(t, e.Metrics.AllMissing())
			}
		}
	}
}

func TestRunObjectiveErrorIsFatal(t *testing.T) {
	cfg, _ := newTestEnv(t, 2)
	store := openStore(t, cfg)

	reg := registry.New()
	require.NoError(t, reg.AddObjective("broken", func(context.Context) ([]float64, error) {
		return nil, fmt.Errorf("store unreachable")
	}))

	ws, err := New(cfg, store, reg)
	require.NoError(t, err)
	ws.SetExecutor(funcExecutor(func(context.Context, string, *site.Site) (simulator.Status, error) {
		return simulator.StatusCompleted, nil
	}))

	_, err = ws.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRunConcurrencyBoundedByWorkers(t *testing.T) {
	cfg, _ := newTestEnv(t, 8)
	cfg.Workspace.Workers = 2
	store := openStore(t, cfg)

	ws, err := New(cfg, store, registry.New())
	require.NoError(t, err)

	var inFlight, peak int64
	ws.SetExecutor(funcExecutor(func(context.Context, string, *site.Site) (simulator.Status, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return simulator.StatusCompleted, nil
	}))

	result, err := ws.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, result.Summary.Completed)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestRunSelectionRuleApplied(t *testing.T) {
	cfg, ids := newTestEnv(t, 5)
	cfg.Sites.Select = "Range(1,4)"
	store := openStore(t, cfg)

	ws, err := New(cfg, store, registry.New())
	require.NoError(t, err)

	var mu sync.Mutex
	var ran []string
	ws.SetExecutor(funcExecutor(func(_ context.Context, _ string, s *site.Site) (simulator.Status, error) {
		mu.Lock()
		ran = append(ran, s.ID)
		mu.Unlock()
		return simulator.StatusCompleted, nil
	}))

	result, err := ws.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Summary.Selected)
	assert.ElementsMatch(t, ids[1:4], ran)
}

func TestRunClearsLogsWhenConfigured(t *testing.T) {
	cfg, _ := newTestEnv(t, 2)
	cfg.Workspace.ClearLogs = true
	store := openStore(t, cfg)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "stale", "zzz", logstore.Metrics{"old": 1}))

	ws, err := New(cfg, store, registry.New())
	require.NoError(t, err)
	ws.SetExecutor(funcExecutor(func(context.Context, string, *site.Site) (simulator.Status, error) {
		return simulator.StatusCompleted, nil
	}))

	_, err = ws.Run(ctx)
	require.NoError(t, err)

	routines, err := store.Routines(ctx)
	require.NoError(t, err)
	assert.NotContains(t, routines, "stale")
}

func TestRunRerunOverwritesEntries(t *testing.T) {
	cfg, _ := newTestEnv(t, 2)
	cfg.Workspace.ClearLogs = false
	store := openStore(t, cfg)

	var run int64
	reg := registry.New()
	require.NoError(t, reg.AddRoutine("pass", func(s *site.Site) (logstore.Metrics, error) {
		return logstore.Metrics{"n": float64(atomic.LoadInt64(&run))}, nil
	}))

	ws, err := New(cfg, store, reg)
	require.NoError(t, err)
	ws.SetExecutor(funcExecutor(func(context.Context, string, *site.Site) (simulator.Status, error) {
		return simulator.StatusCompleted, nil
	}))

	ctx := context.Background()
	for i := int64(1); i <= 2; i++ {
		atomic.StoreInt64(&run, i)
		_, err := ws.Run(ctx)
		require.NoError(t, err)
	}

	entries, err := store.Fetch(ctx, "pass")
	require.NoError(t, err)
	require.Len(t, entries, 2, "reruns must overwrite rows, not append")
	for _, e := range entries {
		assert.Equal(t, 2.0, e.Metrics["n"])
	}
}

func TestNewRejectsMissingExecutable(t *testing.T) {
	cfg, _ := newTestEnv(t, 1)
	cfg.Model.Executable = filepath.Join(cfg.Dir, "nope.sh")
	store := openStore(t, cfg)

	_, err := New(cfg, store, registry.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executable")
}

func TestNewRejectsBadSelectionRule(t *testing.T) {
	cfg, _ := newTestEnv(t, 1)
	cfg.Sites.Select = "Top(5)"
	store := openStore(t, cfg)

	_, err := New(cfg, store, registry.New())
	require.Error(t, err)
}
