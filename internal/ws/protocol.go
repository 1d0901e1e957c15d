package ws

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/project"
)

// ConnectParams is the decoded query of a connect URL:
// /?elmWatchVersion=<v>&output=<original-path>&compiledTimestamp=<int>
type ConnectParams struct {
	ElmWatchVersion   string `mapstructure:"elmWatchVersion"`
	Output            string `mapstructure:"output"`
	CompiledTimestamp int64  `mapstructure:"compiledTimestamp"`
}

// ParseConnectURL decodes the connect URL parameters.
func ParseConnectURL(urlString string) (ConnectParams, *errors.WatchError) {
	var params ConnectParams

	if !strings.HasPrefix(urlString, "/?") {
		return params, errors.BadUrl(urlString)
	}

	values, err := url.ParseQuery(strings.TrimPrefix(urlString, "/?"))
	if err != nil {
		return params, errors.ParamsDecodeError(err, urlString)
	}

	flat := make(map[string]string, len(values))
	for key, vs := range values {
		if len(vs) > 0 {
			flat[key] = vs[0]
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return params, errors.ParamsDecodeError(err, urlString)
	}
	if err := decoder.Decode(flat); err != nil {
		return params, errors.ParamsDecodeError(err, urlString)
	}
	if params.ElmWatchVersion == "" || params.Output == "" {
		return params, errors.ParamsDecodeError(
			fmt.Errorf("elmWatchVersion and output are required"), urlString)
	}

	return params, nil
}

// ValidateConnect checks a client against the engine version and the project's
// targets. On success it returns the matched output path.
func ValidateConnect(params ConnectParams, serverVersion string, p *project.Project) (project.OutputPath, *errors.WatchError) {
	if params.ElmWatchVersion != serverVersion {
		return project.OutputPath{}, errors.WrongVersion(params.ElmWatchVersion, serverVersion)
	}

	if p.Disabled[params.Output] {
		return project.OutputPath{}, errors.OutputDisabled(params.Output)
	}

	_, target, ok := p.FindTarget(params.Output)
	if !ok {
		return project.OutputPath{}, errors.OutputNotFound(params.Output, p.EnabledOutputs(), p.DisabledOutputs())
	}

	return target.Path, nil
}

// ClientMessage is a decoded message from the browser.
type ClientMessage interface{ isClientMessage() }

// ChangeCompilationMode asks for a target's mode to change and a rebuild.
type ChangeCompilationMode struct {
	CompilationMode project.CompilationMode
}

func (ChangeCompilationMode) isClientMessage() {}

// DecodeClientMessage parses one JSON text frame.
func DecodeClientMessage(data []byte) (ClientMessage, *errors.WatchError) {
	var envelope struct {
		Tag             string `json:"tag"`
		CompilationMode string `json:"compilationMode"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.DecodeError(err, string(data))
	}

	switch envelope.Tag {
	case "ChangeCompilationMode":
		if !project.ValidCompilationMode(envelope.CompilationMode) {
			return nil, errors.DecodeError(
				fmt.Errorf("unknown compilation mode %q", envelope.CompilationMode), string(data))
		}
		return ChangeCompilationMode{CompilationMode: project.CompilationMode(envelope.CompilationMode)}, nil
	default:
		return nil, errors.DecodeError(fmt.Errorf("unknown tag %q", envelope.Tag), string(data))
	}
}

// ClientStatus is the status pushed to browsers.
type ClientStatus interface{ isClientStatus() }

// Busy means a compile affecting the client's target is queued or running.
type Busy struct{}

// SuccessfullyCompiled means the artifact is fresh.
type SuccessfullyCompiled struct{}

// CompileError means the last compile of the target failed.
type CompileError struct{}

// ClientError means this particular connection is unusable (bad URL, wrong
// version, unknown output).
type ClientError struct{ Message string }

func (Busy) isClientStatus()                 {}
func (SuccessfullyCompiled) isClientStatus() {}
func (CompileError) isClientStatus()         {}
func (ClientError) isClientStatus()          {}

// EncodeStatusChanged encodes the one server-to-client message.
func EncodeStatusChanged(status ClientStatus) []byte {
	type statusJSON struct {
		Tag     string `json:"tag"`
		Message string `json:"message,omitempty"`
	}
	envelope := struct {
		Tag    string     `json:"tag"`
		Status statusJSON `json:"status"`
	}{Tag: "StatusChanged"}

	switch s := status.(type) {
	case Busy:
		envelope.Status = statusJSON{Tag: "Busy"}
	case SuccessfullyCompiled:
		envelope.Status = statusJSON{Tag: "SuccessfullyCompiled"}
	case CompileError:
		envelope.Status = statusJSON{Tag: "CompileError"}
	case ClientError:
		envelope.Status = statusJSON{Tag: "ClientError", Message: s.Message}
	}

	data, _ := json.Marshal(envelope)
	return data
}
