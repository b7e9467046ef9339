package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"time-agent/internal/domain"
)

type promptContext struct {
	expression     string
	sourceTimezone string
	targets        []string
	referenceTime  time.Time
	tools          []domain.ToolDefinition
}

func buildIntentMessages(expression string) []domain.ChatMessage {
	return []domain.ChatMessage{domain.UserMessage(buildIntentPrompt(expression))}
}

func buildIntentPrompt(expression string) string {
	return strings.Join([]string{
		"Classify this input to either require a tool call or just a normal request.",
		"",
		"INPUT:",
		expression + " - The input natural language time expression.",
		"",
		"1. Tool Call: use this if the user asks for a time zone lookup for a specific Slack ID.",
		`   Example input: "What is the timezone for Slack ID U12345678?"`,
		"2. Normal Request: use this for regular time conversion queries, where the user asks to convert a specific time from one time zone to another.",
		`   Example input: "What is 3pm in London in New York and Dubai?"`,
		"",
		"Output Format:",
		`{"intent": "tool_call"} if the input requires a Slack ID lookup,`,
		`or {"intent": "normal_request"} if the input is a regular time conversion request.`,
	}, "\n")
}

func buildInterpretationMessages(pc promptContext) ([]domain.ChatMessage, error) {
	user, err := buildUserPrompt(pc)
	if err != nil {
		return nil, err
	}
	return []domain.ChatMessage{
		domain.SystemMessage(buildSystemPrompt()),
		domain.UserMessage(user),
	}, nil
}

func buildSystemPrompt() string {
	return strings.Join([]string{
		"You are a time conversion agent and a Slack ID time zone assistant.",
		"1. Extract the date and time from natural language text and convert it across multiple time zones.",
		"   Always respond with valid JSON only, no prose or explanation.",
		"   - Format date as 'YYYY-MM-DD' and time as 'h:mm a'.",
		"   - Include IANA timezone names (e.g., 'America/New_York').",
		"2. If asked for the time zone of a specific Slack ID, use the get_timezone function to return the corresponding time zone.",
		"   - The Slack ID is provided in the format: 'U12345678'.",
		"   - If the Slack ID is found, return the associated time zone. If not, return 'Slack ID not found'.",
		"3. Do not generate any unnecessary explanation; only return the requested data in JSON format.",
	}, "\n")
}

func buildUserPrompt(pc promptContext) (string, error) {
	toolsJSON := "none"
	if len(pc.tools) > 0 {
		b, err := json.Marshal(pc.tools)
		if err != nil {
			return "", fmt.Errorf("usecase: marshal tool definitions: %w", err)
		}
		toolsJSON = string(b)
	}
	return strings.Join([]string{
		"You are a time-conversion assistant that can also resolve Slack ID time zones.",
		"",
		"Available tools:",
		toolsJSON,
		"",
		"INPUT:",
		pc.expression + " - The user's natural-language request.",
		pc.sourceTimezone + " - Default source time zone (override it if a Slack ID lookup succeeds).",
		strings.Join(pc.targets, ", ") + " - Target time zones to convert into when the user does not specify their own.",
		pc.referenceTime.Format(time.RFC3339) + " - ISO 8601 timestamp to interpret relative expressions.",
		"",
		"Instructions:",
		instructions(),
	}, "\n"), nil
}

func instructions() string {
	return strings.Join([]string{
		"1. Identify exactly which time zones the user wants. If a Slack ID is mentioned, resolve it with get_timezone and treat that resolved zone as a requested target. Do not add extra target zones the user did not ask for. If the user never specifies any target zone, fall back to the default target time zones above.",
		"2. Use the resolved source and requested target time zones to perform the conversion.",
		"3. Produce a JSON object that matches the provided schema exactly. Populate:",
		"   - input_text with the original request,",
		"   - source and targets with only the time data the user asked for,",
		"   - output_text with a concise natural-language answer that responds directly to the user's question (no added conversions).",
		"4. If get_timezone returns 'Slack ID not found', reflect that in both the structured data and output_text instead of fabricating a time.",
		"5. Do not include any content outside of the JSON response.",
	}, "\n")
}

// extractText joins the trimmed, non-empty text parts of msg with single spaces.
func extractText(msg domain.A2AMessage) string {
	var parts []string
	for _, p := range msg.Parts {
		if p.Kind != domain.PartText {
			continue
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
