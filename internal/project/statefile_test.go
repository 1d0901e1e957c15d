package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elm-stuff", "elm-watch-state.json")

	state := &StateFile{
		Port: 56789,
		Outputs: map[string]PersistedOutput{
			"build/main.js": {CompilationMode: ModeDebug},
		},
	}
	require.Nil(t, state.Write(path))

	loaded := LoadStateFile(path)
	assert.Equal(t, 56789, loaded.Port)
	assert.Equal(t, ModeDebug, loaded.Outputs["build/main.js"].CompilationMode)
}

func TestLoadStateFileMissingOrMalformed(t *testing.T) {
	dir := t.TempDir()

	loaded := LoadStateFile(filepath.Join(dir, "nope.json"))
	assert.Equal(t, 0, loaded.Port)
	assert.NotNil(t, loaded.Outputs)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{nope"), 0644))
	loaded = LoadStateFile(bad)
	assert.Equal(t, 0, loaded.Port)
}

func TestSnapshotOmitsStandardMode(t *testing.T) {
	p := &Project{
		ElmJsons: []*ElmJson{{
			Path: "elm.json",
			Targets: []*Target{
				{
					Path:  OutputPath{TargetName: "a", Original: "a.js", Absolute: "/x/a.js"},
					State: &OutputState{CompilationMode: ModeStandard},
				},
				{
					Path:  OutputPath{TargetName: "b", Original: "b.js", Absolute: "/x/b.js"},
					State: &OutputState{CompilationMode: ModeOptimize},
				},
			},
		}},
	}

	state := SnapshotStateFile(1234, p)
	assert.Equal(t, 1234, state.Port)
	assert.NotContains(t, state.Outputs, "a.js")
	assert.Equal(t, ModeOptimize, state.Outputs["b.js"].CompilationMode)
}

func TestStateFileShapeOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	state := &StateFile{Port: 1, Outputs: map[string]PersistedOutput{
		"m.js": {CompilationMode: ModeDebug},
	}}
	require.Nil(t, state.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var shape struct {
		Port    int                        `json:"port"`
		Outputs map[string]json.RawMessage `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(data, &shape))
	assert.Equal(t, 1, shape.Port)
	assert.Contains(t, shape.Outputs, "m.js")
}
