package config

// Config is the on-disk YAML shape of a pipeline definition. It is parsed
// independently of the domain model so that syntax errors can be reported
// with YAML source positions before domain validation ever runs.
type Config struct {
	ID          string          `yaml:"id" validate:"required"`
	Name        string          `yaml:"name" validate:"required"`
	Version     string          `yaml:"version" validate:"required,semver"`
	Description string          `yaml:"description"`
	Active      bool            `yaml:"active"`
	Schedule    string          `yaml:"schedule"`
	Stages      []StageConfig   `yaml:"stages" validate:"required,min=1,dive"`
}

// StageConfig is the YAML shape of a single stage definition.
type StageConfig struct {
	ID           string                 `yaml:"id" validate:"required,stage_id"`
	Name         string                 `yaml:"name"`
	Kind         string                 `yaml:"kind" validate:"required,oneof=input transform validation output"`
	Config       map[string]interface{} `yaml:"config"`
	DependsOn    []string               `yaml:"depends_on"`
	Timeout      int                    `yaml:"timeout" validate:"required,gt=0"`
	MaxRetries   int                    `yaml:"max_retries" validate:"gte=0"`
	RetryBase    float64                `yaml:"retry_base" validate:"gte=0"`
	RetryBackoff float64                `yaml:"retry_backoff" validate:"gte=1"`
	IsCritical   bool                   `yaml:"is_critical"`
}
