package compile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/project"
)

func makeModeProject(t *testing.T) *project.Project {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "elm.json"), []byte(appManifest), 0644))

	newTarget := func(name string) *project.Target {
		return &project.Target{
			Path: project.OutputPath{
				TargetName: name,
				Original:   name + ".js",
				Absolute:   filepath.Join(dir, "build", name+".js"),
			},
			State: &project.OutputState{
				Inputs: []string{filepath.Join(dir, "src", name+".elm")},
				Dirty:  true,
				Status: project.NotWrittenToDisk{},
			},
		}
	}

	return &project.Project{
		WatchRoot:  dir,
		ConfigPath: filepath.Join(dir, "elm-watch.json"),
		ElmJsons: []*project.ElmJson{{
			Path:    filepath.Join(dir, "elm.json"),
			Targets: []*project.Target{newTarget("one"), newTarget("two")},
		}},
	}
}

func TestRunMakeSuccess(t *testing.T) {
	var buf bytes.Buffer
	term := cli.NewTerminalWriter(&buf)
	p := makeModeProject(t)

	exitCode := RunMake(&scriptExecutor{script: elmSuccessScript}, term, p, 2)
	assert.Equal(t, 0, exitCode)

	for _, target := range p.ElmJsons[0].Targets {
		_, ok := target.State.Status.(project.Success)
		assert.True(t, ok, "target %s should be Success, got %T",
			target.Path.TargetName, target.State.Status)
		written, err := os.ReadFile(target.Path.Absolute)
		require.NoError(t, err)
		assert.Equal(t, "compiled-js", string(written))
	}
}

func TestRunMakeCompileErrorExitsOne(t *testing.T) {
	var buf bytes.Buffer
	term := cli.NewTerminalWriter(&buf)
	p := makeModeProject(t)

	// Install succeeds; every compile fails with the same structured report.
	report := `{"type":"compile-errors","errors":[{"path":"src/One.elm","name":"One","problems":[{"title":"TYPE MISMATCH","message":["bad"]}]}]}`
	script := `
for a in "$@"; do
  case "$a" in
    *ElmWatchDummy.elm) exit 0;;
  esac
done
printf '%s' '` + report + `' >&2
exit 1
`
	exitCode := RunMake(&scriptExecutor{script: script}, term, p, 2)
	assert.Equal(t, 1, exitCode)
	assert.Contains(t, buf.String(), "1 error(s) found", "identical reports are deduplicated")
}

// Identical problems across targets are reported once: the error count is the
// deduplicated count.
func TestCollectRenderingsDeduplicates(t *testing.T) {
	p := makeModeProject(t)
	for _, target := range p.ElmJsons[0].Targets {
		target.State.Dirty = false
		target.State.Status = project.CompileError{
			Error: errors.ElmMakeCompileErrors([]string{"-- TYPE MISMATCH --\nsrc/Shared.elm\nbad"}),
		}
	}

	renderings := collectRenderings(p)
	assert.Len(t, renderings, 1)
}
