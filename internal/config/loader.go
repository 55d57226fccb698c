package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
	apperrors "github.com/flowforge/pipelinectl/pkg/errors"
)

// YAMLLoader implements ports.PipelineLoader by reading pipeline
// definitions from YAML files on disk.
type YAMLLoader struct {
	logger ports.Logger
}

// NewYAMLLoader constructs a loader that logs through the given logger (may
// be nil for silent operation, e.g. in tests).
func NewYAMLLoader(logger ports.Logger) *YAMLLoader {
	return &YAMLLoader{logger: logger}
}

// Load parses, validates, and maps a YAML pipeline definition into the
// domain model.
func (l *YAMLLoader) Load(ctx context.Context, path string) (pipeline.Pipeline, error) {
	if err := contextCheck(ctx); err != nil {
		return pipeline.Pipeline{}, err
	}

	l.logDebug(ctx, "loading pipeline definition", map[string]interface{}{"path": path})

	cfg, err := ParseConfig(path)
	if err != nil {
		l.logError(ctx, "failed to parse pipeline definition", err, map[string]interface{}{"path": path})
		return pipeline.Pipeline{}, convertError(err, path)
	}

	if err := ValidateConfig(cfg); err != nil {
		l.logError(ctx, "pipeline definition failed syntactic validation", err, map[string]interface{}{"path": path})
		return pipeline.Pipeline{}, convertError(err, path)
	}

	if err := contextCheck(ctx); err != nil {
		return pipeline.Pipeline{}, err
	}

	p := mapToDomain(cfg)
	if err := p.Validate(); err != nil {
		l.logError(ctx, "pipeline definition failed domain validation", err, map[string]interface{}{"path": path})
		return pipeline.Pipeline{}, err
	}

	l.logInfo(ctx, "pipeline definition loaded", map[string]interface{}{"path": path, "stages": len(p.Stages)})
	return p, nil
}

// Validate performs a syntactic and structural check without requiring the
// caller to retain the resulting pipeline.
func (l *YAMLLoader) Validate(ctx context.Context, path string) error {
	if err := contextCheck(ctx); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		l.logError(ctx, "pipeline path stat failed", err, map[string]interface{}{"path": path})
		return convertError(err, path)
	}
	if info.IsDir() {
		return domainError(pipeline.ErrCodeValidation, "pipeline path is a directory", nil, map[string]interface{}{"path": path})
	}

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		_, err = l.Load(ctx, path)
	default:
		err = domainError(pipeline.ErrCodeValidation, "unsupported pipeline file extension", nil, map[string]interface{}{"path": path, "extension": ext})
	}
	return err
}

var _ ports.PipelineLoader = (*YAMLLoader)(nil)

func convertError(err error, path string) error {
	if err == nil {
		return nil
	}
	var parseErr *apperrors.ParseError
	if errors.As(err, &parseErr) {
		if errors.Is(parseErr.Err, os.ErrNotExist) {
			return domainError(pipeline.ErrCodeNotFound, "pipeline definition not found", parseErr.Err, map[string]interface{}{"path": path})
		}
		return domainError(pipeline.ErrCodeValidation, "invalid pipeline definition syntax", err, map[string]interface{}{"path": parseErr.Path})
	}
	var valErr *apperrors.ValidationError
	if errors.As(err, &valErr) {
		ctx := map[string]interface{}{"path": path}
		if valErr.Field != "" {
			ctx["field"] = valErr.Field
		}
		code := pipeline.ErrCodeValidation
		msg := strings.ToLower(valErr.Message)
		switch {
		case strings.Contains(msg, "duplicate"):
			code = pipeline.ErrCodeDuplicate
		case strings.Contains(msg, "depends on") || strings.Contains(msg, "unknown stage"):
			code = pipeline.ErrCodeDependency
		case strings.Contains(msg, "circular"):
			code = pipeline.ErrCodeCycle
		}
		return domainError(code, valErr.Message, valErr.Err, ctx)
	}
	if os.IsNotExist(err) {
		return domainError(pipeline.ErrCodeNotFound, "pipeline definition not found", err, map[string]interface{}{"path": path})
	}
	return domainError(pipeline.ErrCodeInternal, "pipeline definition load failed", err, map[string]interface{}{"path": path})
}

func contextCheck(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return domainError(pipeline.ErrCodeCancelled, "operation cancelled", err, nil)
	}
	return nil
}

func domainError(code pipeline.ErrorCode, message string, cause error, ctx map[string]interface{}) *pipeline.DomainError {
	return &pipeline.DomainError{Code: code, Message: message, Cause: cause, Context: ctx}
}

func (l *YAMLLoader) logDebug(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Debug(ctx, msg, flattenFields(fields)...)
}

func (l *YAMLLoader) logInfo(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Info(ctx, msg, flattenFields(fields)...)
}

func (l *YAMLLoader) logError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["error"] = err
	l.logger.Error(ctx, msg, flattenFields(payload)...)
}

func flattenFields(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

func mapToDomain(cfg *Config) pipeline.Pipeline {
	stages := make([]pipeline.Stage, len(cfg.Stages))
	for i, s := range cfg.Stages {
		stages[i] = pipeline.Stage{
			ID:           s.ID,
			Name:         s.Name,
			Kind:         pipeline.StageKind(s.Kind),
			Config:       cloneMap(s.Config),
			DependsOn:    append([]string(nil), s.DependsOn...),
			Timeout:      s.Timeout,
			MaxRetries:   s.MaxRetries,
			RetryBase:    s.RetryBase,
			RetryBackoff: s.RetryBackoff,
			IsCritical:   s.IsCritical,
		}
	}

	return pipeline.Pipeline{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Version:     cfg.Version,
		Description: cfg.Description,
		Active:      cfg.Active,
		Schedule:    cfg.Schedule,
		Stages:      stages,
	}
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return map[string]interface{}{}
	}
	clone := make(map[string]interface{}, len(src))
	for k, v := range src {
		clone[k] = v
	}
	return clone
}
