package handlers

import (
	"context"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// InputHandler produces records from static stage configuration. It is the
// entry point of a pipeline: it has no dependency result to read from.
type InputHandler struct{}

func (InputHandler) Kind() pipeline.StageKind { return pipeline.StageKindInput }

func (InputHandler) Run(ctx context.Context, input ports.StageInput) (map[string]interface{}, error) {
	source, _ := input.Config["source"].(string)
	records := recordsFrom(input.Config, "records")
	return map[string]interface{}{
		"source":  source,
		"records": records,
		"count":   len(records),
	}, nil
}

// TransformHandler passes its dependency's records through, applying the
// named operation as a no-op marker; concrete transform logic is pluggable
// per spec §4.7 step 3 and is left to operator-supplied configuration.
type TransformHandler struct{}

func (TransformHandler) Kind() pipeline.StageKind { return pipeline.StageKindTransform }

func (TransformHandler) Run(ctx context.Context, input ports.StageInput) (map[string]interface{}, error) {
	operation, _ := input.Config["operation"].(string)
	if operation == "" {
		operation = "passthrough"
	}
	records := recordsFrom(input.DependencyResult, "records")
	return map[string]interface{}{
		"operation":    operation,
		"input_count":  len(records),
		"output_count": len(records),
		"data":         records,
	}, nil
}

// ValidationHandler checks each upstream record carries every field named
// in the stage's schema. A missing schema is treated as a pass-through:
// every record is counted valid.
type ValidationHandler struct{}

func (ValidationHandler) Kind() pipeline.StageKind { return pipeline.StageKindValidation }

func (ValidationHandler) Run(ctx context.Context, input ports.StageInput) (map[string]interface{}, error) {
	records := recordsFrom(input.DependencyResult, "data")
	if records == nil {
		records = recordsFrom(input.DependencyResult, "records")
	}
	schema := schemaFields(input.Config["schema"])

	valid, invalid := 0, 0
	if len(schema) == 0 {
		valid = len(records)
	} else {
		for _, rec := range records {
			if recordSatisfies(rec, schema) {
				valid++
			} else {
				invalid++
			}
		}
	}

	return map[string]interface{}{
		"total":   len(records),
		"valid":   valid,
		"invalid": invalid,
		"schema":  schema,
	}, nil
}

// OutputHandler reports the number of upstream records it would persist to
// the configured destination.
type OutputHandler struct{}

func (OutputHandler) Kind() pipeline.StageKind { return pipeline.StageKindOutput }

func (OutputHandler) Run(ctx context.Context, input ports.StageInput) (map[string]interface{}, error) {
	destination, _ := input.Config["destination"].(string)
	records := recordsFrom(input.DependencyResult, "data")
	if records == nil {
		records = recordsFrom(input.DependencyResult, "records")
	}
	return map[string]interface{}{
		"destination":      destination,
		"records_written":  len(records),
		"success":          true,
	}, nil
}

func recordsFrom(m map[string]interface{}, key string) []interface{} {
	if m == nil {
		return nil
	}
	raw, ok := m[key]
	if !ok {
		return nil
	}
	records, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	return records
}

func schemaFields(raw interface{}) []string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}

func recordSatisfies(rec interface{}, schema []string) bool {
	m, ok := rec.(map[string]interface{})
	if !ok {
		return false
	}
	for _, field := range schema {
		if _, present := m[field]; !present {
			return false
		}
	}
	return true
}
