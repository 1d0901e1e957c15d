package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/grovetools/elmwatch/errors"
)

// ConfigTarget is one entry of elm-watch.json's "targets" object.
type ConfigTarget struct {
	Name        string
	Inputs      []string
	Output      *string // nil means the null sink (typecheck-only)
	Postprocess []string
}

// Config is the decoded elm-watch.json, with targets in declaration order.
type Config struct {
	Port    int
	Targets []ConfigTarget
}

// schemaConfig mirrors the config file shape for JSON Schema reflection.
// Declaration order is lost through a Go map, so actual decoding happens with
// a token walk; this struct exists only for validation.
type schemaConfig struct {
	Port    int                           `json:"port,omitempty" jsonschema:"minimum=1,maximum=65535,description=Fixed websocket port"`
	Targets map[string]schemaConfigTarget `json:"targets" jsonschema:"required,description=Named build targets"`
}

type schemaConfigTarget struct {
	Inputs      []string `json:"inputs" jsonschema:"required,minItems=1,description=Entry-point files"`
	Output      *string  `json:"output" jsonschema:"oneof_type=string;null,description=Artifact path or null for typecheck-only"`
	Postprocess []string `json:"postprocess,omitempty" jsonschema:"description=Postprocess command vector"`
}

var compiledSchema *jsv.Schema

func configSchema() (*jsv.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}

	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
	}
	schema := r.Reflect(&schemaConfig{})
	schema.Title = "elm-watch configuration"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schemaData, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema: %w", err)
	}

	compiler := jsv.NewCompiler()
	if err := compiler.AddResource("elm-watch.json", bytes.NewReader(schemaData)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("elm-watch.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	compiledSchema = compiled
	return compiled, nil
}

// LoadConfig reads and validates elm-watch.json, preserving target
// declaration order.
func LoadConfig(path string) (*Config, *errors.WatchError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigJsonParseError(path, err)
	}
	return ParseConfig(path, data)
}

// ParseConfig validates raw config bytes against the schema and decodes them.
func ParseConfig(path string, data []byte) (*Config, *errors.WatchError) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, errors.ConfigJsonParseError(path, err)
	}

	schema, err := configSchema()
	if err != nil {
		return nil, errors.ConfigInvalid(path, err)
	}
	if err := schema.Validate(generic); err != nil {
		if validationErr, ok := err.(*jsv.ValidationError); ok {
			var messages []string
			collectSchemaErrors(validationErr, &messages)
			return nil, errors.ConfigInvalid(path, fmt.Errorf("schema validation failed:\n%s", strings.Join(messages, "\n")))
		}
		return nil, errors.ConfigInvalid(path, err)
	}

	cfg, err := decodeOrderedConfig(data)
	if err != nil {
		return nil, errors.ConfigJsonParseError(path, err)
	}
	return cfg, nil
}

func collectSchemaErrors(err *jsv.ValidationError, messages *[]string) {
	if err.InstanceLocation != "" {
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, messages)
	}
}

// decodeOrderedConfig walks the JSON tokens so that the declaration order of
// "targets" survives decoding. Scheduling ties break on that order.
func decodeOrderedConfig(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	cfg := &Config{}

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "port":
			if err := dec.Decode(&cfg.Port); err != nil {
				return nil, err
			}
		case "targets":
			if err := expectDelim(dec, '{'); err != nil {
				return nil, err
			}
			for dec.More() {
				name, err := stringToken(dec)
				if err != nil {
					return nil, err
				}
				var raw struct {
					Inputs      []string `json:"inputs"`
					Output      *string  `json:"output"`
					Postprocess []string `json:"postprocess"`
				}
				if err := dec.Decode(&raw); err != nil {
					return nil, err
				}
				cfg.Targets = append(cfg.Targets, ConfigTarget{
					Name:        name,
					Inputs:      raw.Inputs,
					Output:      raw.Output,
					Postprocess: raw.Postprocess,
				})
			}
			if err := expectDelim(dec, '}'); err != nil {
				return nil, err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
		}
	}
	return cfg, expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || rune(delim) != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected a string key, got %v", tok)
	}
	return s, nil
}
