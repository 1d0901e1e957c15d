package logging

// Config defines the structure for diagnostic logging configuration, loaded
// from the optional elm-stuff/elm-watch-log.yml in the current working directory.
type Config struct {
	// Level is the minimum log level to output (e.g., "debug", "info", "warn", "error").
	// Can be overridden by the ELM_WATCH_LOG_LEVEL environment variable.
	Level string `yaml:"level"`

	// ReportCaller, if true, includes the file, line, and function name in the log output.
	// Can be enabled with the ELM_WATCH_LOG_CALLER=true environment variable.
	ReportCaller bool `yaml:"report_caller"`

	// File configures logging to a file.
	File FileSinkConfig `yaml:"file"`

	// StructuredToStderr controls when structured logs are sent to stderr.
	// Can be "auto" (default), "always", or "never". In "auto" mode logs go to
	// stderr only when debugging or when stderr is not an interactive terminal,
	// so diagnostic output never interleaves with the status grid.
	StructuredToStderr string `yaml:"structured_to_stderr"`
}

// FileSinkConfig configures the file logging sink.
type FileSinkConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the full path to the log file.
	Path string `yaml:"path"`
}
