package errors

import (
	"fmt"
	"strings"
)

// BadArgs creates an error for CLI arguments that do not name configured targets.
func BadArgs(unknown []string, known []string) *WatchError {
	return New(ErrCodeBadArgs,
		fmt.Sprintf("unknown targets: %s (configured targets: %s)",
			strings.Join(unknown, ", "), strings.Join(known, ", "))).
		WithDetail("unknown", unknown).
		WithDetail("known", known)
}

// DebugOptimizeClash creates the error for `make --debug --optimize`.
func DebugOptimizeClash() *WatchError {
	return New(ErrCodeDebugOptimizeClash,
		"--debug and --optimize only make sense one at a time")
}

// DebugOptimizeForHot creates the error for mode flags passed to `hot`.
func DebugOptimizeForHot() *WatchError {
	return New(ErrCodeDebugOptimizeForHot,
		"in hot mode, compilation mode is set per target from the browser, not via flags")
}

// ConfigJsonParseError wraps a JSON syntax error in the config file.
func ConfigJsonParseError(path string, err error) *WatchError {
	return Wrap(err, ErrCodeConfigJsonParseError,
		fmt.Sprintf("failed to parse %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid wraps a schema validation failure for the config file.
func ConfigInvalid(path string, err error) *WatchError {
	return Wrap(err, ErrCodeConfigInvalid,
		fmt.Sprintf("invalid configuration in %s", path)).
		WithDetail("path", path)
}

// InputsNotFound creates an error for entry points missing on disk.
func InputsNotFound(target string, inputs []string) *WatchError {
	return New(ErrCodeInputsNotFound,
		fmt.Sprintf("target %q has inputs that do not exist: %s", target, strings.Join(inputs, ", "))).
		WithDetail("target", target).
		WithDetail("inputs", inputs)
}

// InputsFailedToResolve creates an error for entry points that could not be
// resolved to absolute paths.
func InputsFailedToResolve(target string, input string, err error) *WatchError {
	return Wrap(err, ErrCodeInputsFailedToResolve,
		fmt.Sprintf("target %q input %q failed to resolve", target, input)).
		WithDetail("target", target).
		WithDetail("input", input)
}

// DuplicateInputs creates an error for inputs resolving to the same file.
func DuplicateInputs(target string, duplicates []string) *WatchError {
	return New(ErrCodeDuplicateInputs,
		fmt.Sprintf("target %q lists the same input twice: %s", target, strings.Join(duplicates, ", "))).
		WithDetail("target", target).
		WithDetail("duplicates", duplicates)
}

// ElmJsonNotFound creates an error for inputs with no surrounding elm.json.
func ElmJsonNotFound(target string, inputs []string) *WatchError {
	return New(ErrCodeElmJsonNotFound,
		fmt.Sprintf("no elm.json found for the inputs of target %q: %s", target, strings.Join(inputs, ", "))).
		WithDetail("target", target).
		WithDetail("inputs", inputs)
}

// NonUniqueElmJsonPaths creates an error for a target whose inputs belong to
// different elm.json files.
func NonUniqueElmJsonPaths(target string, paths []string) *WatchError {
	return New(ErrCodeNonUniqueElmJsonPaths,
		fmt.Sprintf("the inputs of target %q belong to different elm.json files: %s", target, strings.Join(paths, ", "))).
		WithDetail("target", target).
		WithDetail("elmJsonPaths", paths)
}

// ElmNotFound creates an error for a missing elm binary.
func ElmNotFound(command string) *WatchError {
	return New(ErrCodeElmNotFound,
		fmt.Sprintf("the %s executable could not be found on PATH", command)).
		WithDetail("command", command)
}

// CommandNotFound creates an error for a missing postprocess executable.
func CommandNotFound(command string) *WatchError {
	return New(ErrCodeCommandNotFound,
		fmt.Sprintf("command not found: %s", command)).
		WithDetail("command", command)
}

// OtherSpawnError wraps an unexpected pre-exec failure.
func OtherSpawnError(command string, err error) *WatchError {
	return Wrap(err, ErrCodeOtherSpawnError,
		fmt.Sprintf("failed to spawn %s", command)).
		WithDetail("command", command)
}

// CreatingDummyFailed wraps a failure to set up the dummy file used to trigger
// dependency installation.
func CreatingDummyFailed(elmJsonPath string, err error) *WatchError {
	return Wrap(err, ErrCodeCreatingDummyFailed,
		fmt.Sprintf("failed to create dummy input for %s", elmJsonPath)).
		WithDetail("elmJsonPath", elmJsonPath)
}

// UnexpectedElmMakeOutput creates an error for compiler output that matches
// neither success nor a structured error report.
func UnexpectedElmMakeOutput(stdout, stderr []byte) *WatchError {
	return New(ErrCodeUnexpectedElmMakeOutput, "the compiler printed unexpected output").
		WithDetail("stdout", string(stdout)).
		WithDetail("stderr", string(stderr))
}

// ElmMakeJsonParseError wraps a failure to parse the compiler's JSON report.
func ElmMakeJsonParseError(err error, raw []byte) *WatchError {
	return Wrap(err, ErrCodeElmMakeJsonParseError, "failed to parse the compiler's error report").
		WithDetail("raw", string(raw))
}

// ElmMakeGeneralError creates an error for a compiler report of type "error".
func ElmMakeGeneralError(title, path, message string) *WatchError {
	return New(ErrCodeElmMakeGeneralError, title).
		WithDetail("path", path).
		WithDetail("renderedMessage", message)
}

// ElmMakeCompileErrors creates an error carrying per-file compile problems.
// Each rendering is a terminal-ready string.
func ElmMakeCompileErrors(renderings []string) *WatchError {
	return New(ErrCodeElmMakeCompileErrors,
		fmt.Sprintf("%d compile problem(s)", len(renderings))).
		WithDetail("renderings", renderings)
}

// StdoutDecodeError wraps a failure to read the compiled artifact.
func StdoutDecodeError(outputPath string, err error) *WatchError {
	return Wrap(err, ErrCodeStdoutDecodeError,
		fmt.Sprintf("failed to read compiled output for %s", outputPath)).
		WithDetail("outputPath", outputPath)
}

// ElmInstallError creates a structured dependency install error.
func ElmInstallError(title, message string) *WatchError {
	return New(ErrCodeElmInstallError, title).
		WithDetail("renderedMessage", message)
}

// UnexpectedElmInstallOutput creates an error for unparseable install output.
func UnexpectedElmInstallOutput(stdout, stderr []byte) *WatchError {
	return New(ErrCodeUnexpectedElmInstallOutput, "dependency install printed unexpected output").
		WithDetail("stdout", string(stdout)).
		WithDetail("stderr", string(stderr))
}

// PostprocessNonZeroExit creates an error for a postprocess command exit != 0.
func PostprocessNonZeroExit(command []string, exitReason string, stdout, stderr []byte) *WatchError {
	return New(ErrCodePostprocessNonZeroExit,
		fmt.Sprintf("postprocess %s failed: %s", strings.Join(command, " "), exitReason)).
		WithDetail("command", command).
		WithDetail("exitReason", exitReason).
		WithDetail("stdout", string(stdout)).
		WithDetail("stderr", string(stderr))
}

// PostprocessStdinWriteError wraps a failure to pipe code into a postprocess command.
func PostprocessStdinWriteError(command []string, err error) *WatchError {
	return Wrap(err, ErrCodePostprocessStdinWriteError,
		fmt.Sprintf("failed to write to the stdin of %s", strings.Join(command, " "))).
		WithDetail("command", command)
}

// ElmWatchNodeMissingScript creates an error for `elm-watch-node` with no script.
func ElmWatchNodeMissingScript() *WatchError {
	return New(ErrCodeElmWatchNodeMissingScript,
		"elm-watch-node needs a script to run: [\"elm-watch-node\", \"path/to/script.js\"]")
}

// ElmWatchNodeImportError creates an error for a script that failed to load.
func ElmWatchNodeImportError(scriptPath, thrown string) *WatchError {
	return New(ErrCodeElmWatchNodeImportError,
		fmt.Sprintf("failed to import %s", scriptPath)).
		WithDetail("scriptPath", scriptPath).
		WithDetail("error", thrown)
}

// ElmWatchNodeDefaultExportNotFunction creates an error for a non-callable default export.
func ElmWatchNodeDefaultExportNotFunction(scriptPath, typeofExport string) *WatchError {
	return New(ErrCodeElmWatchNodeDefaultExportNotFunction,
		fmt.Sprintf("the default export of %s is %s, not a function", scriptPath, typeofExport)).
		WithDetail("scriptPath", scriptPath).
		WithDetail("typeofDefault", typeofExport)
}

// ElmWatchNodeRunError creates an error for a script whose function threw.
func ElmWatchNodeRunError(scriptPath string, args []string, thrown string) *WatchError {
	return New(ErrCodeElmWatchNodeRunError,
		fmt.Sprintf("%s threw an error", scriptPath)).
		WithDetail("scriptPath", scriptPath).
		WithDetail("args", args).
		WithDetail("error", thrown)
}

// ElmWatchNodeBadReturnValue creates an error for a non-string return value.
func ElmWatchNodeBadReturnValue(scriptPath, typeofReturn string) *WatchError {
	return New(ErrCodeElmWatchNodeBadReturnValue,
		fmt.Sprintf("%s returned %s, expected a string", scriptPath, typeofReturn)).
		WithDetail("scriptPath", scriptPath).
		WithDetail("typeofReturn", typeofReturn)
}

// BadUrl creates an error for a websocket URL not starting with "/?".
func BadUrl(urlString string) *WatchError {
	return New(ErrCodeBadUrl,
		fmt.Sprintf("expected the URL to start with /? but got: %s", urlString)).
		WithDetail("url", urlString)
}

// ParamsDecodeError wraps a failure to decode websocket connect parameters.
func ParamsDecodeError(err error, urlString string) *WatchError {
	return Wrap(err, ErrCodeParamsDecodeError, "failed to decode the connect URL parameters").
		WithDetail("url", urlString)
}

// WrongVersion creates an error for a client built against a different version.
func WrongVersion(clientVersion, serverVersion string) *WatchError {
	return New(ErrCodeWrongVersion,
		fmt.Sprintf("the browser is running elm-watch %s but the server is %s; reload the page", clientVersion, serverVersion)).
		WithDetail("clientVersion", clientVersion).
		WithDetail("serverVersion", serverVersion)
}

// OutputNotFound creates an error for a connect URL naming no enabled target.
func OutputNotFound(output string, enabled, disabled []string) *WatchError {
	return New(ErrCodeOutputNotFound,
		fmt.Sprintf("no target matches %q (enabled: %s) (disabled: %s)",
			output, strings.Join(enabled, ", "), strings.Join(disabled, ", "))).
		WithDetail("output", output).
		WithDetail("enabledOutputs", enabled).
		WithDetail("disabledOutputs", disabled)
}

// OutputDisabled creates an error for a connect URL naming a disabled target.
func OutputDisabled(output string) *WatchError {
	return New(ErrCodeOutputDisabled,
		fmt.Sprintf("target %q is disabled for this run", output)).
		WithDetail("output", output)
}

// UnsupportedDataType creates an error for binary websocket frames.
func UnsupportedDataType() *WatchError {
	return New(ErrCodeUnsupportedDataType, "only text frames are supported")
}

// DecodeError wraps a failure to decode a websocket client message.
func DecodeError(err error, raw string) *WatchError {
	return Wrap(err, ErrCodeDecodeError, "failed to decode the message").
		WithDetail("raw", raw)
}

// StateFileWriteError wraps a failure to persist the runtime state file.
func StateFileWriteError(path string, err error) *WatchError {
	return Wrap(err, ErrCodeStateFileWriteError,
		fmt.Sprintf("failed to write %s", path)).
		WithDetail("path", path)
}

// WatcherError wraps a fatal filesystem watcher failure.
func WatcherError(err error) *WatchError {
	return Wrap(err, ErrCodeWatcherError, "the filesystem watcher failed")
}

// PortConflict creates the fatal error for a configured port already in use.
func PortConflict(port int) *WatchError {
	return New(ErrCodePortConflict,
		fmt.Sprintf("port %d (from elm-watch.json) is already in use", port)).
		WithDetail("port", port)
}
