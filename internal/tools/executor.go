package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Invoke runs impl with args and returns its resolved value. Synchronous and
// asynchronous implementations are both supported. No timeout is applied here;
// an async tool is abandoned only when ctx is cancelled.
func Invoke(ctx context.Context, impl Impl, args Arguments) (any, error) {
	switch t := impl.(type) {
	case Tool:
		return t.Call(ctx, args)
	case AsyncTool:
		ch := t.Start(ctx, args)
		if ch == nil {
			return nil, fmt.Errorf("tools: %s returned no result channel", t.Kind())
		}
		select {
		case res, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("tools: %s closed without a result", t.Kind())
			}
			return res.Value, res.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		return nil, fmt.Errorf("tools: %T is not invocable", impl)
	}
}

// Stringify renders a tool result for a tool message: strings pass through,
// everything else is JSON-encoded, falling back to fmt formatting.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
