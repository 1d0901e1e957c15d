package project

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/grovetools/elmwatch/errors"
)

// StateFile is the persisted runtime state: the websocket port and every
// target whose compilation mode differs from standard. It is rewritten
// best-effort after every mutation; failures surface as non-fatal log entries
// and the write is retried next time one is scheduled.
type StateFile struct {
	Port    int                        `json:"port"`
	Outputs map[string]PersistedOutput `json:"outputs"`
}

// PersistedOutput records the non-standard compilation mode of one target.
type PersistedOutput struct {
	CompilationMode CompilationMode `json:"compilationMode"`
}

// StateFilePath returns the runtime file location for a given config file.
func StateFilePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "elm-stuff", "elm-watch-state.json")
}

// LoadStateFile reads the persisted state. A missing or malformed file is not
// an error; the zero state is returned instead.
func LoadStateFile(path string) *StateFile {
	empty := &StateFile{Outputs: map[string]PersistedOutput{}}

	data, err := os.ReadFile(path)
	if err != nil {
		return empty
	}
	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return empty
	}
	if state.Outputs == nil {
		state.Outputs = map[string]PersistedOutput{}
	}
	return &state
}

// SnapshotStateFile captures the current port and per-target modes from a
// project. Targets in standard mode are omitted.
func SnapshotStateFile(port int, p *Project) *StateFile {
	state := &StateFile{Port: port, Outputs: map[string]PersistedOutput{}}
	for _, elmJson := range p.ElmJsons {
		for _, target := range elmJson.Targets {
			if target.State.CompilationMode != ModeStandard {
				state.Outputs[target.Path.Key()] = PersistedOutput{
					CompilationMode: target.State.CompilationMode,
				}
			}
		}
	}
	return state
}

// Write persists the state file, creating the directory if missing.
func (s *StateFile) Write(path string) *errors.WatchError {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.StateFileWriteError(path, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.StateFileWriteError(path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.StateFileWriteError(path, err)
	}
	return nil
}

// compilationModeFor picks a target's starting mode: a CLI override wins,
// then the persisted mode, then standard.
func compilationModeFor(output OutputPath, override CompilationMode, persisted *StateFile) CompilationMode {
	if override != "" {
		return override
	}
	if persisted != nil {
		if entry, ok := persisted.Outputs[output.Key()]; ok && ValidCompilationMode(string(entry.CompilationMode)) {
			return entry.CompilationMode
		}
	}
	return ModeStandard
}
