package tools

import (
	"context"
	"time"

	"github.com/openclaw/clawd/internal/restart"
	"github.com/openclaw/clawd/internal/sessions"
)

// RegisterGatewayRestart installs the gateway.restart builtin: stage a
// sentinel carrying the caller's session so the restarted daemon can
// resume the conversation, then arm the self-signal.
func RegisterGatewayRestart(src *BuiltinSource, scheduler *restart.Scheduler, nodeNames sessions.NodeNameLookup) {
	src.Register(Builtin{
		Command:     "gateway.restart",
		Description: "Restart the gateway process, resuming the current conversation afterwards.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"delayMs":    map[string]interface{}{"type": "number", "description": "Delay before the restart fires (default 1200)."},
				"reason":     map[string]interface{}{"type": "string"},
				"sessionKey": map[string]interface{}{"type": "string", "description": "Session to resume after restart."},
				"message":    map[string]interface{}{"type": "string", "description": "Note delivered to the resumed session."},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			delay := restart.DefaultDelay
			if d, ok := args["delayMs"].(float64); ok && d >= 0 {
				delay = time.Duration(d) * time.Millisecond
			}
			reason, _ := args["reason"].(string)

			sentinel := restart.NewSentinel("scheduled", "tool", reason)
			if key, _ := args["sessionKey"].(string); key != "" {
				sentinel.SessionKey = sessions.SanitizeNodeKey(key, nodeNames)
			}
			if msg, _ := args["message"].(string); msg != "" {
				sentinel.Message = msg
			}
			scheduler.Stage(sentinel)

			return scheduler.Schedule(delay, reason), nil
		},
	})
}
