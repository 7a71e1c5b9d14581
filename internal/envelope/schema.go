package envelope

import (
	"encoding/json"
	"fmt"

	coreerrors "github.com/pantryworks/reciperecon/internal/core/errors"
)

// workflowSchema describes the required/default/optional fields for one
// workflow_type, mirroring the recognized-types table.
type workflowSchema struct {
	requiredFields []string
	applyDefaults  func(payload map[string]any)
	validate       func(payload map[string]any) error
}

// schemaTable is indexed by workflow_type. Unknown workflow_type is a
// ValidationError.
var schemaTable = map[WorkflowType]workflowSchema{
	RecipeWorkflowFull: {
		requiredFields: []string{"search_query"},
		applyDefaults: func(payload map[string]any) {
			if _, ok := payload["excluded_domains"]; !ok {
				payload["excluded_domains"] = []any{}
			}
			if _, ok := payload["number_of_urls"]; !ok {
				payload["number_of_urls"] = float64(10)
			}
		},
		validate: func(payload map[string]any) error {
			query, ok := payload["search_query"].(string)
			if !ok || query == "" {
				return coreerrors.NewValidationError("search_query", "must be a non-empty string")
			}
			n, ok := numberOf(payload["number_of_urls"])
			if !ok {
				return coreerrors.NewValidationError("number_of_urls", "must be an integer")
			}
			if n < 1 || n > 50 {
				return coreerrors.NewValidationError("number_of_urls", "must be in range 1..50")
			}
			return nil
		},
	},
}

func numberOf(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// ValidateWorkflowInitiate validates a decoded workflow.initiate payload,
// applying defaults and promoting the canonical RecipeWorkflowFullPayload
// shape. Extra fields are dropped from the returned payload and are not
// copied into envelope metadata, by this function or by its callers.
func ValidateWorkflowInitiate(payload WorkflowInitiatePayload) (RecipeWorkflowFullPayload, error) {
	schema, ok := schemaTable[payload.WorkflowType]
	if !ok {
		return RecipeWorkflowFullPayload{}, coreerrors.NewValidationError("workflow_type", fmt.Sprintf("unknown workflow type %q", payload.WorkflowType))
	}

	wp := payload.WorkflowPayload
	if wp == nil {
		wp = map[string]any{}
	}
	// Work on a copy so defaulting never mutates the caller's map.
	merged := make(map[string]any, len(wp))
	for k, v := range wp {
		merged[k] = v
	}

	for _, field := range schema.requiredFields {
		if _, ok := merged[field]; !ok {
			return RecipeWorkflowFullPayload{}, coreerrors.NewValidationError(field, "required field missing")
		}
	}
	schema.applyDefaults(merged)
	if err := schema.validate(merged); err != nil {
		return RecipeWorkflowFullPayload{}, err
	}

	// Re-marshal into the canonical struct rather than hand-walking the map,
	// so unknown/extra keys in workflow_payload are simply dropped here and
	// never promoted into the recognized payload.
	raw, err := json.Marshal(merged)
	if err != nil {
		return RecipeWorkflowFullPayload{}, coreerrors.NewValidationError("workflow_payload", "not serializable")
	}
	var out RecipeWorkflowFullPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return RecipeWorkflowFullPayload{}, coreerrors.NewValidationError("workflow_payload", "shape mismatch")
	}
	return out, nil
}

// ValidateEnvelope checks the envelope-level invariants: a recognized type,
// and (for workflow.initiate) a recognized/valid payload. It does not
// validate agent.task/agent.result/metric payload shapes beyond structural
// JSON decoding, since those are produced internally by trusted components
// rather than external producers.
func ValidateEnvelope(env *Envelope) error {
	switch env.Type {
	case TypeWorkflowInitiate, TypeAgentTask, TypeAgentResult, TypeMetric:
	default:
		return coreerrors.NewValidationError("type", fmt.Sprintf("unknown envelope type %q", env.Type))
	}
	if env.Status == StatusFailed && env.Error == nil {
		return coreerrors.NewValidationError("error", "status=failed requires a populated error")
	}
	if env.RetryCount > env.MaxRetries {
		return coreerrors.NewValidationError("retry_count", "exceeds max_retries")
	}

	if env.Type == TypeWorkflowInitiate {
		var p WorkflowInitiatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return coreerrors.NewPoisonError(err)
		}
		if _, err := ValidateWorkflowInitiate(p); err != nil {
			return err
		}
	}
	return nil
}
