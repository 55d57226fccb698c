package config

import (
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/flowforge/pipelinectl/pkg/errors"
)

// ParseConfig reads and unmarshals a pipeline YAML file, wrapping any
// failure in a pkg/errors.ParseError so callers can distinguish a missing
// file from a syntax error without inspecting os/yaml error types directly.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewParseError(path, 0, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		line := 0
		var typeErr *yaml.TypeError
		if ok := asYAMLTypeError(err, &typeErr); ok && len(typeErr.Errors) > 0 {
			line = -1
		}
		return nil, apperrors.NewParseError(path, line, err)
	}

	return &cfg, nil
}

func asYAMLTypeError(err error, target **yaml.TypeError) bool {
	if typeErr, ok := err.(*yaml.TypeError); ok {
		*target = typeErr
		return true
	}
	return false
}
