package envelope

import "time"

// WorkflowType is the closed, extensible set of workflow kinds. Only
// RecipeWorkflowFull is registered today.
type WorkflowType string

const RecipeWorkflowFull WorkflowType = "recipe_workflow_full"

// WorkflowInitiatePayload is the body of a workflow.initiate envelope.
type WorkflowInitiatePayload struct {
	WorkflowType    WorkflowType   `json:"workflow_type"`
	WorkflowPayload map[string]any `json:"workflow_payload"`
}

// RecipeWorkflowFullPayload is the canonical, validated shape of
// workflow_payload once recognized as recipe_workflow_full.
type RecipeWorkflowFullPayload struct {
	SearchQuery     string   `json:"search_query"`
	ExcludedDomains []string `json:"excluded_domains"`
	NumberOfURLs    int      `json:"number_of_urls"`
}

// AgentTaskPayload is a workflow.initiate plus routing hints.
type AgentTaskPayload struct {
	WorkflowInitiatePayload
	TargetAgentID string `json:"target_agent_id,omitempty"`
}

// AgentResultPayload is the body of an agent.result envelope.
type AgentResultPayload struct {
	TaskID string         `json:"task_id"`
	Output map[string]any `json:"output"`
	Error  *ErrorDetail   `json:"error,omitempty"`
}

// MetricPayload is the body of a metric envelope.
type MetricPayload struct {
	EventType string         `json:"event_type"`
	Duration  *float64       `json:"duration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// RecipeIngredient is one line item of a scraped recipe.
type RecipeIngredient struct {
	IngredientName string   `json:"ingredient_name"`
	Quantity       *float64 `json:"quantity"`
	Unit           *string  `json:"unit"`
}

// RecipeSinkPayload is the strict shape sent to the external RecipeSink,
// matching the upstream DTO field-for-field including the
// recipe_ingredients rename from the scraper's internal "ingredients".
type RecipeSinkPayload struct {
	Title             string             `json:"title"`
	Instructions      string             `json:"instructions"`
	PrepTime          int                `json:"prep_time"`
	CookTime          int                `json:"cook_time"`
	TotalTime         int                `json:"total_time"`
	Servings          int                `json:"servings"`
	SourceURL         string             `json:"source_url"`
	Notes             *string            `json:"notes"`
	RecipeIngredients []RecipeIngredient `json:"recipe_ingredients"`
	CreatedFromQuery  string             `json:"created_from_query"`
}
