package httpapi

import (
	"context"
	"net/http"

	"github.com/flowforge/pipelinectl/internal/engine"
)

func engineStartRequest(req startRequest) engine.StartRequest {
	return engine.StartRequest{
		PipelineID:      req.PipelineID,
		Variables:       req.Variables,
		TriggerSource:   req.TriggerSource,
		TriggerMetadata: req.TriggerMetadata,
	}
}

func timeoutContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
