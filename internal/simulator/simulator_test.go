package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/log"
	"github.com/croplab/fieldrun/internal/site"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// setupRunner builds a workspace layout with a fake executable script and one
// site with its four input files.
func setupRunner(t *testing.T, script string, timeout time.Duration) (*Runner, *site.Site) {
	t.Helper()
	root := t.TempDir()

	exe := filepath.Join(root, "model", "fake-sim")
	require.NoError(t, os.MkdirAll(filepath.Dir(exe), 0o755))
	require.NoError(t, os.WriteFile(exe, []byte(script), 0o755))

	inputDir := filepath.Join(root, "inputs")
	require.NoError(t, os.MkdirAll(inputDir, 0o755))
	paths := make(map[string]string, 4)
	for _, ext := range []string{".OPC", ".DLY", ".SOL", ".SIT"} {
		p := filepath.Join(inputDir, "alpha"+ext)
		require.NoError(t, os.WriteFile(p, []byte("input\n"), 0o644))
		paths[ext] = p
	}
	s, err := site.New("alpha", paths[".OPC"], paths[".DLY"], paths[".SOL"], paths[".SIT"])
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Model.Executable = exe
	cfg.Model.Duration = 2
	cfg.Model.StartDate = "2014-01-01"
	cfg.Model.OutputTypes = []string{"ACY"}
	cfg.Model.Timeout = timeout
	cfg.OutputDir = filepath.Join(root, "output")
	cfg.LogDir = filepath.Join(root, "log")
	cfg.CacheDir = filepath.Join(root, ".cache")

	return New(cfg), s
}

// completeScript reads the site ID from the staged control file and produces
// the requested annual output.
const completeScript = `#!/bin/sh
id=$(awk '/^site/{print $2}' FIELDRUN.CTL)
echo "yield 8.1" > "$id.ACY"
`

func TestExecuteCompleted(t *testing.T) {
	r, s := setupRunner(t, completeScript, 30*time.Second)

	status, err := r.Execute(context.Background(), "run1", s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	out, ok := s.Outputs["ACY"]
	require.True(t, ok, "ACY output path must be recorded")
	assert.True(t, filepath.IsAbs(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "yield")
}

func TestExecuteStagesInputsAndControlFile(t *testing.T) {
	// The script proves staging happened by checking its working directory.
	script := `#!/bin/sh
for f in alpha.OPC alpha.DLY alpha.SOL alpha.SIT FIELDRUN.CTL; do
  [ -s "$f" ] || exit 9
done
grep -q "years     2" FIELDRUN.CTL || exit 8
grep -q "start     2014-01-01" FIELDRUN.CTL || exit 7
id=$(awk '/^site/{print $2}' FIELDRUN.CTL)
echo ok > "$id.ACY"
`
	r, s := setupRunner(t, script, 30*time.Second)

	status, err := r.Execute(context.Background(), "run1", s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestExecuteTimedOut(t *testing.T) {
	// Would eventually produce valid output, but must still be TimedOut.
	script := `#!/bin/sh
sleep 30
id=$(awk '/^site/{print $2}' FIELDRUN.CTL)
echo late > "$id.ACY"
`
	r, s := setupRunner(t, script, 200*time.Millisecond)

	start := time.Now()
	status, err := r.Execute(context.Background(), "run1", s)
	elapsed := time.Since(start)

	assert.Equal(t, StatusTimedOut, status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Empty(t, s.Outputs, "no partial outputs may be trusted")
	assert.Less(t, elapsed, 10*time.Second, "termination must not wait for the sleep")
}

func TestExecuteFailedNonZeroExit(t *testing.T) {
	r, s := setupRunner(t, "#!/bin/sh\necho boom >&2\nexit 3\n", 30*time.Second)

	status, err := r.Execute(context.Background(), "run1", s)
	assert.Equal(t, StatusFailed, status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
	assert.Empty(t, s.Outputs)

	// The run log is preserved for diagnosis.
	logData, err := os.ReadFile(filepath.Join(r.cfg.LogDir, "alpha.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "boom")
}

func TestExecuteFailedMissingOutput(t *testing.T) {
	r, s := setupRunner(t, "#!/bin/sh\nexit 0\n", 30*time.Second)

	status, err := r.Execute(context.Background(), "run1", s)
	assert.Equal(t, StatusFailed, status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not produced")
}

func TestExecuteFailedEmptyOutput(t *testing.T) {
	script := `#!/bin/sh
id=$(awk '/^site/{print $2}' FIELDRUN.CTL)
: > "$id.ACY"
`
	r, s := setupRunner(t, script, 30*time.Second)

	status, _ := r.Execute(context.Background(), "run1", s)
	assert.Equal(t, StatusFailed, status)
}

func TestExecuteResetsPreviousOutputs(t *testing.T) {
	r, s := setupRunner(t, "#!/bin/sh\nexit 1\n", 30*time.Second)
	s.Outputs["ACY"] = "/stale/path"

	status, _ := r.Execute(context.Background(), "run1", s)
	assert.Equal(t, StatusFailed, status)
	assert.Empty(t, s.Outputs, "outputs must be reset at the start of each run")
}

func TestExecuteCleansStagingDir(t *testing.T) {
	r, s := setupRunner(t, completeScript, 30*time.Second)

	_, err := r.Execute(context.Background(), "run1", s)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(r.cfg.CacheDir, "runs", "run1", "alpha"))
	assert.True(t, os.IsNotExist(err), "staging dir must be removed after the task")
}
