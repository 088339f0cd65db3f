package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/nlloc"
	"github.com/seismolab/scoter/internal/rundir"
	"github.com/seismolab/scoter/internal/testutil"
)

// writeFixtures lays out a bulletin directory with one four-pick event
// and a configuration file running step A against it.
func writeFixtures(t *testing.T) (configPath string) {
	t.Helper()

	bulletins := t.TempDir()
	picks := []model.Pick{
		{Station: "UGM", Phase: "P", Time: 1262304030},
		{Station: "BKS", Phase: "P", Time: 1262304032},
		{Station: "JAG", Phase: "P", Time: 1262304035},
		{Station: "SMR", Phase: "S", Time: 1262304041},
	}
	require.NoError(t, nlloc.DumpObs(picks, filepath.Join(bulletins, "ev1.obs"), ""))

	configPath = filepath.Join(t.TempDir(), "run.cue")
	cfg := fmt.Sprintf("steps: [\"A\"]\nbulletins: %q\n", bulletins)
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return configPath
}

func captureCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	return cmd, &out
}

func TestRunPipeline_StepA(t *testing.T) {
	configPath := writeFixtures(t)
	runDir := t.TempDir()

	engine := testutil.NewScriptedEngine()
	engine.Script("ev1", testutil.Result(-7.5, 110.4, map[model.TermKey]float64{
		{Station: "UGM", Phase: "P"}: 0.1,
	}))

	opts := &GoOptions{
		RootOptions: &RootOptions{Format: "text"},
		Config:      configPath,
		Engine:      engine,
	}
	cmd, out := captureCommand()
	require.NoError(t, runPipeline(opts, runDir, cmd))

	store, err := rundir.Open(runDir)
	require.NoError(t, err)
	assert.True(t, store.Complete(model.StepA))
	assert.Contains(t, out.String(), "single-pass")
}

func TestRunPipeline_BadConfig(t *testing.T) {
	opts := &GoOptions{
		RootOptions: &RootOptions{Format: "text"},
		Config:      filepath.Join(t.TempDir(), "missing.cue"),
	}
	cmd, _ := captureCommand()

	err := runPipeline(opts, t.TempDir(), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunPipeline_NoLocatorConfigured(t *testing.T) {
	configPath := writeFixtures(t)

	opts := &GoOptions{
		RootOptions: &RootOptions{Format: "text"},
		Config:      configPath,
	}
	cmd, _ := captureCommand()

	err := runPipeline(opts, t.TempDir(), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "locator")
}

func TestSummarize_CountsTerminalStatuses(t *testing.T) {
	results := map[model.Step]*model.StepResult{
		model.StepA: {
			Step:        model.StepA,
			Termination: model.TermSinglePass,
			Iterations: []model.Iteration{{
				Index: 1,
				Events: []model.Event{
					{Name: "ev1", Status: model.StatusLocated},
					{Name: "ev2", Status: model.StatusFailed, FailReason: "too few picks"},
				},
			}},
		},
	}

	summaries := summarize(results)
	require.Len(t, summaries, 1)
	assert.Equal(t, "A", summaries[0].Step)
	assert.Equal(t, 1, summaries[0].Located)
	assert.Equal(t, 1, summaries[0].Failed)
}
