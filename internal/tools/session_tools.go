package tools

import (
	"context"
	"sort"
	"time"

	"github.com/openclaw/clawd/internal/sessions"
)

// RegisterSessionTools installs the session housekeeping builtins.
func RegisterSessionTools(src *BuiltinSource, store *sessions.Store) {
	src.Register(Builtin{
		Command:     "sessions.list",
		Description: "List known session keys with their last-updated times.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			entries, err := store.Load()
			if err != nil {
				return nil, err
			}
			type row struct {
				SessionKey string `json:"sessionKey"`
				SessionID  string `json:"sessionId"`
				UpdatedAt  int64  `json:"updatedAt"`
			}
			rows := make([]row, 0, len(entries))
			for key, e := range entries {
				rows = append(rows, row{SessionKey: key, SessionID: e.SessionID, UpdatedAt: e.UpdatedAt})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt > rows[j].UpdatedAt })
			return map[string]interface{}{"sessions": rows}, nil
		},
	})

	src.Register(Builtin{
		Command:     "time.now",
		Description: "Current gateway time.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			now := time.Now()
			return map[string]interface{}{
				"unixMs":   now.UnixMilli(),
				"rfc3339":  now.Format(time.RFC3339),
				"timezone": now.Location().String(),
			}, nil
		},
	})
}
