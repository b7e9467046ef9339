package domain

// Intent values produced by the classifier.
const (
	IntentToolCall      = "tool_call"
	IntentNormalRequest = "normal_request"
)

// IntentResponse is the classifier payload: {"intent": "tool_call"|"normal_request"}.
type IntentResponse struct {
	Intent string `json:"intent"`
}

// ToolCallRequest is one planned call. ToolParameters is a JSON-encoded object.
type ToolCallRequest struct {
	InputText      string `json:"input_text"`
	ToolName       string `json:"tool_name"`
	ToolParameters string `json:"tool_parameters"`
}

// ToolCallPlan is the structured-extraction result of the planning call.
type ToolCallPlan struct {
	ToolCalls []ToolCallRequest `json:"tool_calls"`
}

// TimePoint is a wall-clock time in an IANA timezone.
type TimePoint struct {
	Timezone string `json:"timezone"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

// TimeConversion is the final structured answer returned by the model.
type TimeConversion struct {
	InputText  string      `json:"input_text"`
	OutputText string      `json:"output_text"`
	Source     TimePoint   `json:"source"`
	Targets    []TimePoint `json:"targets"`
}

// UserProfile maps a chat handle to a timezone.
type UserProfile struct {
	User     string `json:"user"`
	Timezone string `json:"timezone"`
	FullName string `json:"full_name,omitempty"`
}
