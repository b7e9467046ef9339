package domain

// Task states reported in TaskStatus.State.
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Part kinds.
const (
	PartText = "text"
	PartData = "data"
)

// A2AMessage is an agent-to-agent message carrying text and data parts.
type A2AMessage struct {
	Kind      string         `json:"kind"`
	Role      string         `json:"role"`
	Parts     []MessagePart  `json:"parts"`
	MessageID string         `json:"messageId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessagePart is either a text part or a data part.
type MessagePart struct {
	Kind string           `json:"kind"`
	Text string           `json:"text,omitempty"`
	Data []map[string]any `json:"data,omitempty"`
}

type TaskStatus struct {
	State     string      `json:"state"`
	Timestamp string      `json:"timestamp"`
	Message   *A2AMessage `json:"message,omitempty"`
}

type Artifact struct {
	ArtifactID string        `json:"artifactId"`
	Name       string        `json:"name"`
	Parts      []MessagePart `json:"parts"`
}

// TaskResult is the result envelope returned for one agent request.
type TaskResult struct {
	ID        string       `json:"id"`
	ContextID string       `json:"contextId"`
	Status    TaskStatus   `json:"status"`
	Artifacts []Artifact   `json:"artifacts"`
	History   []A2AMessage `json:"history"`
	Kind      string       `json:"kind"`
}
