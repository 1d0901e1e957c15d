package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/elmwatch/errors"
)

func TestParseConfigPreservesDeclarationOrder(t *testing.T) {
	data := []byte(`{
		"targets": {
			"zebra": {"inputs": ["src/Zebra.elm"], "output": "build/zebra.js"},
			"apple": {"inputs": ["src/Apple.elm"], "output": "build/apple.js"},
			"mango": {"inputs": ["src/Mango.elm"], "output": null}
		}
	}`)

	cfg, err := ParseConfig("elm-watch.json", data)
	require.Nil(t, err)
	require.Len(t, cfg.Targets, 3)
	assert.Equal(t, "zebra", cfg.Targets[0].Name)
	assert.Equal(t, "apple", cfg.Targets[1].Name)
	assert.Equal(t, "mango", cfg.Targets[2].Name)
	assert.Nil(t, cfg.Targets[2].Output)
	require.NotNil(t, cfg.Targets[0].Output)
	assert.Equal(t, "build/zebra.js", *cfg.Targets[0].Output)
}

func TestParseConfigPort(t *testing.T) {
	data := []byte(`{
		"port": 43210,
		"targets": {
			"main": {"inputs": ["src/Main.elm"], "output": "main.js"}
		}
	}`)

	cfg, err := ParseConfig("elm-watch.json", data)
	require.Nil(t, err)
	assert.Equal(t, 43210, cfg.Port)
}

func TestParseConfigPostprocess(t *testing.T) {
	data := []byte(`{
		"targets": {
			"main": {
				"inputs": ["src/Main.elm"],
				"output": "main.js",
				"postprocess": ["elm-watch-node", "postprocess.js"]
			}
		}
	}`)

	cfg, err := ParseConfig("elm-watch.json", data)
	require.Nil(t, err)
	assert.Equal(t, []string{"elm-watch-node", "postprocess.js"}, cfg.Targets[0].Postprocess)
}

func TestParseConfigRejectsInvalidJson(t *testing.T) {
	_, err := ParseConfig("elm-watch.json", []byte(`{"targets": `))
	require.NotNil(t, err)
	assert.Equal(t, errors.ErrCodeConfigJsonParseError, err.Code)
}

func TestParseConfigRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing targets", `{}`},
		{"empty inputs", `{"targets": {"main": {"inputs": [], "output": "m.js"}}}`},
		{"missing inputs", `{"targets": {"main": {"output": "m.js"}}}`},
		{"unknown field", `{"targets": {"main": {"inputs": ["a.elm"], "output": "m.js", "nope": 1}}}`},
		{"port out of range", `{"port": 99999, "targets": {"main": {"inputs": ["a.elm"], "output": "m.js"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig("elm-watch.json", []byte(tt.data))
			require.NotNil(t, err)
			assert.Equal(t, errors.ErrCodeConfigInvalid, err.Code)
		})
	}
}
