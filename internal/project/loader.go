package project

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/grovetools/elmwatch/errors"
)

// ConfigFileName is the configuration file looked up from the working
// directory upwards.
const ConfigFileName = "elm-watch.json"

// FindConfigFile walks upward from dir until it finds elm-watch.json.
func FindConfigFile(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found upwards from the current directory", ConfigFileName)
		}
		dir = parent
	}
}

// NewProject resolves a decoded config into a Project. Unknown CLI target
// names are fatal (BadArgs); per-target resolution failures are collected as
// ElmJsonsErrors and reported every compile cycle instead of aborting.
func NewProject(configPath string, cfg *Config, selected []string, modeOverride CompilationMode, persisted *StateFile) (*Project, *errors.WatchError) {
	watchRoot := filepath.Dir(configPath)

	if badArgsErr := checkSelected(cfg, selected); badArgsErr != nil {
		return nil, badArgsErr
	}

	selectedSet := make(map[string]bool, len(selected))
	for _, name := range selected {
		selectedSet[name] = true
	}

	p := &Project{
		WatchRoot:  watchRoot,
		ConfigPath: configPath,
		Disabled:   make(map[string]bool),
		Port:       cfg.Port,
	}

	byManifest := make(map[string]*ElmJson)

	for _, ct := range cfg.Targets {
		outputPath := resolveOutputPath(watchRoot, ct)

		if len(selected) > 0 && !selectedSet[ct.Name] {
			p.Disabled[outputPath.Key()] = true
			continue
		}

		inputs, inputsErr := resolveInputs(watchRoot, ct)
		if inputsErr != nil {
			related := pathSet(inputs)
			for _, input := range ct.Inputs {
				related[absJoin(watchRoot, input)] = struct{}{}
			}
			p.ElmJsonsErrors = append(p.ElmJsonsErrors, &OutputError{
				Path:         outputPath,
				Error:        inputsErr,
				RelatedFiles: related,
			})
			continue
		}

		manifestPath, manifestErr := findElmJson(ct.Name, inputs, watchRoot)
		if manifestErr != nil {
			p.ElmJsonsErrors = append(p.ElmJsonsErrors, &OutputError{
				Path:         outputPath,
				Error:        manifestErr,
				RelatedFiles: pathSet(inputs),
			})
			continue
		}

		state := &OutputState{
			Inputs:                 inputs,
			CompilationMode:        compilationModeFor(outputPath, modeOverride, persisted),
			Postprocess:            ct.Postprocess,
			AllRelatedElmFilePaths: RelatedElmFilePaths(manifestPath, inputs),
			Dirty:                  true,
			Status:                 NotWrittenToDisk{},
		}

		elmJson, ok := byManifest[manifestPath]
		if !ok {
			elmJson = &ElmJson{Path: manifestPath}
			byManifest[manifestPath] = elmJson
			p.ElmJsons = append(p.ElmJsons, elmJson)
		}
		elmJson.Targets = append(elmJson.Targets, &Target{Path: outputPath, State: state})
	}

	return p, nil
}

func checkSelected(cfg *Config, selected []string) *errors.WatchError {
	known := make([]string, 0, len(cfg.Targets))
	knownSet := make(map[string]bool, len(cfg.Targets))
	for _, ct := range cfg.Targets {
		known = append(known, ct.Name)
		knownSet[ct.Name] = true
	}

	var unknown []string
	for _, name := range selected {
		if !knownSet[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return errors.BadArgs(unknown, known)
	}
	return nil
}

func resolveOutputPath(watchRoot string, ct ConfigTarget) OutputPath {
	if ct.Output == nil {
		return OutputPath{TargetName: ct.Name, Null: true}
	}
	return OutputPath{
		TargetName: ct.Name,
		Original:   *ct.Output,
		Absolute:   absJoin(watchRoot, *ct.Output),
	}
}

func resolveInputs(watchRoot string, ct ConfigTarget) ([]string, *errors.WatchError) {
	inputs := make([]string, 0, len(ct.Inputs))
	seen := make(map[string]string, len(ct.Inputs))
	var missing, duplicates []string

	for _, input := range ct.Inputs {
		abs, err := filepath.Abs(absJoin(watchRoot, input))
		if err != nil {
			return nil, errors.InputsFailedToResolve(ct.Name, input, err)
		}
		if prev, dup := seen[abs]; dup {
			duplicates = append(duplicates, prev+" and "+input)
			continue
		}
		seen[abs] = input
		if _, err := os.Stat(abs); err != nil {
			missing = append(missing, input)
			continue
		}
		inputs = append(inputs, abs)
	}

	if len(duplicates) > 0 {
		return inputs, errors.DuplicateInputs(ct.Name, duplicates)
	}
	if len(missing) > 0 {
		return inputs, errors.InputsNotFound(ct.Name, missing)
	}
	return inputs, nil
}

// findElmJson walks upward from each input until it finds an elm.json. All
// inputs of one target must agree on the manifest.
func findElmJson(targetName string, inputs []string, watchRoot string) (string, *errors.WatchError) {
	found := make(map[string]bool)
	var paths []string

	for _, input := range inputs {
		dir := filepath.Dir(input)
		for {
			candidate := filepath.Join(dir, "elm.json")
			if _, err := os.Stat(candidate); err == nil {
				if !found[candidate] {
					found[candidate] = true
					paths = append(paths, candidate)
				}
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir || !strings.HasPrefix(dir, watchRoot) {
				break
			}
			dir = parent
		}
	}

	switch len(paths) {
	case 0:
		return "", errors.ElmJsonNotFound(targetName, inputs)
	case 1:
		return paths[0], nil
	default:
		return "", errors.NonUniqueElmJsonPaths(targetName, paths)
	}
}

// RelatedElmFilePaths computes the set of files considered related to a
// target: its inputs, its elm.json, and every .elm file under the manifest's
// source-directories. Recomputed after each compile so newly created modules
// are picked up.
func RelatedElmFilePaths(elmJsonPath string, inputs []string) map[string]struct{} {
	related := pathSet(inputs)
	related[elmJsonPath] = struct{}{}

	srcDirs := readSourceDirectories(elmJsonPath)
	for _, dir := range srcDirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				base := d.Name()
				if base == "elm-stuff" || base == "node_modules" || strings.HasPrefix(base, ".") && path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(path, ".elm") {
				related[path] = struct{}{}
			}
			return nil
		})
	}
	return related
}

func readSourceDirectories(elmJsonPath string) []string {
	data, err := os.ReadFile(elmJsonPath)
	if err != nil {
		return nil
	}
	var manifest struct {
		SourceDirectories []string `json:"source-directories"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	root := filepath.Dir(elmJsonPath)
	dirs := make([]string, 0, len(manifest.SourceDirectories))
	for _, dir := range manifest.SourceDirectories {
		dirs = append(dirs, absJoin(root, dir))
	}
	return dirs
}

func absJoin(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}
