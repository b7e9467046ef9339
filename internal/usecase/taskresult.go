package usecase

import (
	"time"

	"time-agent/internal/domain"
)

const artifactName = "agent-output"

type taskParts struct {
	texts []string
	data  []map[string]any
}

func buildTaskResult(msg domain.A2AMessage, state, contextID, taskID string, parts taskParts, now time.Time) domain.TaskResult {
	artifactParts := make([]domain.MessagePart, 0, len(parts.texts)+len(parts.data))
	for _, t := range parts.texts {
		artifactParts = append(artifactParts, domain.MessagePart{Kind: domain.PartText, Text: t})
	}
	for _, d := range parts.data {
		artifactParts = append(artifactParts, domain.MessagePart{Kind: domain.PartData, Data: []map[string]any{d}})
	}
	if len(artifactParts) == 0 {
		artifactParts = append(artifactParts, domain.MessagePart{Kind: domain.PartText})
	}

	if taskID == "" {
		taskID = newUUID()
	}
	if contextID == "" {
		contextID = newUUID()
	}
	return domain.TaskResult{
		ID:        taskID,
		ContextID: contextID,
		Status: domain.TaskStatus{
			State:     state,
			Timestamp: now.UTC().Format(time.RFC3339Nano),
		},
		Artifacts: []domain.Artifact{{
			ArtifactID: newUUID(),
			Name:       artifactName,
			Parts:      artifactParts,
		}},
		History: []domain.A2AMessage{msg},
		Kind:    "task",
	}
}

// buildErrorResult builds a failed task. data, when set, carries diagnostics
// such as the raw model output.
func buildErrorResult(msg domain.A2AMessage, errMsg, contextID, taskID string, data map[string]any, now time.Time) domain.TaskResult {
	payload := map[string]any{"error": errMsg}
	if len(data) > 0 {
		payload["data"] = data
	}
	return buildTaskResult(msg, domain.TaskFailed, contextID, taskID, taskParts{
		texts: []string{errMsg},
		data:  []map[string]any{payload},
	}, now)
}
