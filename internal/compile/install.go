package compile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/spawn"
)

// LoadingMessageDelayEnvVar overrides how long the install runs before the
// "in progress" indicator appears.
const LoadingMessageDelayEnvVar = "__ELM_WATCH_LOADING_MESSAGE_DELAY"

const defaultLoadingMessageDelay = 100 * time.Millisecond

func loadingMessageDelay() time.Duration {
	if v := os.Getenv(LoadingMessageDelayEnvVar); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultLoadingMessageDelay
}

// InstallDependencies makes sure every manifest's packages are downloaded
// before any compile starts. Manifests are processed strictly in sequence:
// two concurrent installs may corrupt the shared per-user package cache, and
// duplicate downloads are wasteful.
//
// Returns nil on success. Manifests that fail to parse are skipped silently;
// the real compile later surfaces that diagnostic with colors.
func InstallDependencies(executor spawn.Executor, term *cli.Terminal, p *project.Project) *errors.WatchError {
	for _, elmJson := range p.ElmJsons {
		if err := installForManifest(executor, term, elmJson.Path); err != nil {
			term.WriteLine(term.ErrorTitle(err.Message))
			term.WriteLine(errors.Render(err))
			return err
		}
	}
	return nil
}

func installForManifest(executor spawn.Executor, term *cli.Terminal, elmJsonPath string) *errors.WatchError {
	manifest, ok := readManifest(elmJsonPath)
	if !ok {
		// ElmJsonError: skip, the compile step reports it properly.
		return nil
	}

	dummyDir, derr := createDummyProject(manifest)
	if derr != nil {
		return errors.CreatingDummyFailed(elmJsonPath, derr)
	}
	defer os.RemoveAll(dummyDir)

	// The indicator only appears when the install is slow; a warm cache
	// finishes below the delay and the user sees nothing.
	indicator := time.AfterFunc(loadingMessageDelay(), func() {
		term.DrawStatusGrid([]string{term.Emoji("⏳", "...") + " Dependencies (" + filepath.Dir(elmJsonPath) + ")"})
	})
	defer func() {
		indicator.Stop()
		term.EraseStatusGrid()
	}()

	result := spawn.Run(executor, spawn.Options{
		Command: "elm",
		Args:    []string{"make", "--report=json", "--output=" + os.DevNull, filepath.Join("src", "ElmWatchDummy.elm")},
		Dir:     dummyDir,
	})

	switch r := result.(type) {
	case spawn.CommandNotFound:
		return errors.ElmNotFound("elm")
	case spawn.OtherSpawnError:
		return errors.OtherSpawnError("elm", r.Err)
	case spawn.StdinWriteError:
		return errors.OtherSpawnError("elm", r.Err)
	case spawn.Exited:
		if r.Reason == spawn.ExitCode(0) {
			indicator.Stop()
			term.EraseStatusGrid()
			term.WriteLine(term.Success(term.Emoji("🚀", "") + " Dependencies ready (" + filepath.Dir(elmJsonPath) + ")"))
			return nil
		}
		return classifyInstallFailure(r)
	}
	return errors.New(errors.ErrCodeOtherSpawnError, "unreachable spawn result")
}

func classifyInstallFailure(r spawn.Exited) *errors.WatchError {
	var report elmReport
	if err := json.Unmarshal(r.Stderr, &report); err != nil || report.Type != "error" {
		return errors.UnexpectedElmInstallOutput(r.Stdout, r.Stderr)
	}
	return errors.ElmInstallError(report.Title, renderMessage(report.Message))
}

// readManifest parses an elm.json. Returning ok=false means the manifest is
// missing or malformed, which is the silently-skipped ElmJsonError case.
func readManifest(elmJsonPath string) (map[string]json.RawMessage, bool) {
	data, err := os.ReadFile(elmJsonPath)
	if err != nil {
		return nil, false
	}
	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, false
	}
	if _, hasType := manifest["type"]; !hasType {
		return nil, false
	}
	return manifest, true
}

// createDummyProject writes a throwaway project sharing the manifest's
// dependencies, so compiling its single dummy module downloads everything
// without touching the user's tree. Only application manifests have their
// elm-version and dependencies copied; for any other manifest the dummy
// depends on elm/core alone.
func createDummyProject(manifest map[string]json.RawMessage) (string, error) {
	dir, err := os.MkdirTemp("", "elm-watch-install-*")
	if err != nil {
		return "", err
	}

	dummy := map[string]json.RawMessage{
		"type":               json.RawMessage(`"application"`),
		"source-directories": json.RawMessage(`["src"]`),
		"elm-version":        json.RawMessage(`"0.19.1"`),
		"dependencies":       json.RawMessage(`{"direct":{"elm/core":"1.0.5"},"indirect":{}}`),
		"test-dependencies":  json.RawMessage(`{"direct":{},"indirect":{}}`),
	}
	if v, ok := manifest["elm-version"]; ok && isApplication(manifest) {
		dummy["elm-version"] = v
	}
	if deps, ok := manifest["dependencies"]; ok && isApplication(manifest) {
		dummy["dependencies"] = deps
	}
	if testDeps, ok := manifest["test-dependencies"]; ok && isApplication(manifest) {
		dummy["test-dependencies"] = testDeps
	}

	data, err := json.MarshalIndent(dummy, "", "    ")
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "elm.json"), data, 0644); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0755); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}

	module := "module ElmWatchDummy exposing (dummy)\n\n\ndummy : ()\ndummy =\n    ()\n"
	if err := os.WriteFile(filepath.Join(dir, "src", "ElmWatchDummy.elm"), []byte(module), 0644); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}

	return dir, nil
}

func isApplication(manifest map[string]json.RawMessage) bool {
	var kind string
	if err := json.Unmarshal(manifest["type"], &kind); err != nil {
		return false
	}
	return kind == "application"
}
