package config

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/flowforge/pipelinectl/pkg/errors"
)

var (
	semverPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)
	stageIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("stage_id", func(fl validator.FieldLevel) bool {
			return stageIDPattern.MatchString(fl.Field().String())
		})
		validatorInst = v
	})
	return validatorInst
}

// ValidateConfig runs struct-tag validation plus the cross-field checks
// (duplicate stage ids, dangling dependencies) that validator tags alone
// cannot express.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return apperrors.NewValidationError("", "configuration is nil", nil)
	}

	if err := validatorInstance().Struct(cfg); err != nil {
		return apperrors.NewValidationError("", err.Error(), err)
	}

	seen := make(map[string]struct{}, len(cfg.Stages))
	for _, stage := range cfg.Stages {
		if _, ok := seen[stage.ID]; ok {
			return apperrors.NewValidationError("stages", "duplicate stage id: "+stage.ID, nil)
		}
		seen[stage.ID] = struct{}{}
	}

	for _, stage := range cfg.Stages {
		for _, dep := range stage.DependsOn {
			if dep == stage.ID {
				return apperrors.NewValidationError("stages["+stage.ID+"].depends_on", "stage depends on itself", nil)
			}
			if _, ok := seen[dep]; !ok {
				return apperrors.NewValidationError("stages["+stage.ID+"].depends_on", "depends on unknown stage: "+dep, nil)
			}
		}
	}

	return detectCycle(cfg.Stages)
}

// detectCycle runs an early DFS cycle check at the config layer, ahead of
// the domain's own Pipeline.ValidateDependencies pass, so a cyclic YAML file
// is rejected with a parse-adjacent error before a domain.Pipeline is even
// constructed.
func detectCycle(stages []StageConfig) error {
	lookup := make(map[string]StageConfig, len(stages))
	for _, s := range stages {
		lookup[s.ID] = s
	}

	visited := make(map[string]bool, len(stages))
	stack := make(map[string]bool, len(stages))

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		stack[id] = true
		for _, dep := range lookup[id].DependsOn {
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			} else if stack[dep] {
				return apperrors.NewValidationError("stages", "circular dependency detected at stage "+id, nil)
			}
		}
		stack[id] = false
		return nil
	}

	for _, s := range stages {
		if !visited[s.ID] {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
