package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"time-agent/internal/domain"
)

// TimezoneNotFound is returned to the model when a Slack ID has no profile.
const TimezoneNotFound = "Slack ID not found"

// Directory resolves a chat handle to a user profile.
type Directory interface {
	Lookup(ctx context.Context, handle string) (domain.UserProfile, bool, error)
}

// TimezoneTool implements get_timezone: Slack ID to IANA timezone name.
type TimezoneTool struct {
	dir Directory
}

func NewTimezoneTool(dir Directory) (*TimezoneTool, error) {
	if dir == nil {
		return nil, errors.New("tools: directory must not be nil")
	}
	return &TimezoneTool{dir: dir}, nil
}

func (t *TimezoneTool) Kind() Kind { return KindGetTimezone }

func (t *TimezoneTool) Call(ctx context.Context, args Arguments) (any, error) {
	slackID, ok := args.String("slack_id")
	slackID = strings.TrimSpace(slackID)
	if !ok || slackID == "" {
		return nil, &ArgumentError{Reason: ReasonSchemaViolation, Err: errors.New("slack_id must be a non-empty string")}
	}
	profile, found, err := t.dir.Lookup(ctx, slackID)
	if err != nil {
		return nil, fmt.Errorf("get_timezone: lookup %q: %w", slackID, err)
	}
	if !found || profile.Timezone == "" {
		return TimezoneNotFound, nil
	}
	return profile.Timezone, nil
}
