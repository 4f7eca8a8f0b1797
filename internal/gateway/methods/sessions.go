package methods

import (
	"context"
	"sort"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/sessions"
	"github.com/openclaw/clawd/pkg/protocol"
)

// SessionsMethods serves the persisted session registry.
type SessionsMethods struct {
	d *Deps
}

// NewSessionsMethods creates the sessions handler family.
func NewSessionsMethods(d *Deps) *SessionsMethods { return &SessionsMethods{d: d} }

// Register wires sessions.list, sessions.patch, sessions.delete.
func (m *SessionsMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodSessionsList, m.handleList)
	router.Handle(protocol.MethodSessionsPatch, m.handlePatch)
	router.Handle(protocol.MethodSessionsDelete, m.handleDelete)
}

type sessionRow struct {
	SessionKey string `json:"sessionKey"`
	sessions.Entry
}

func (m *SessionsMethods) handleList(ctx context.Context, call *gateway.Call) {
	entries, err := m.d.Sessions.Load()
	if err != nil {
		call.Fail(protocol.ErrInternal, "load sessions: "+err.Error())
		return
	}

	rows := make([]sessionRow, 0, len(entries))
	for key, entry := range entries {
		rows = append(rows, sessionRow{SessionKey: key, Entry: entry})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt > rows[j].UpdatedAt })
	call.OK(map[string]interface{}{"sessions": rows})
}

func (m *SessionsMethods) handlePatch(ctx context.Context, call *gateway.Call) {
	var params struct {
		SessionKey     string  `json:"sessionKey"`
		ThinkingLevel  *string `json:"thinkingLevel,omitempty"`
		VerboseLevel   *string `json:"verboseLevel,omitempty"`
		ReasoningLevel *string `json:"reasoningLevel,omitempty"`
		SendPolicy     *string `json:"sendPolicy,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.SessionKey == "" {
		call.Fail(protocol.ErrInvalidRequest, "sessionKey is required")
		return
	}
	if _, ok := m.d.Sessions.Get(params.SessionKey); !ok {
		call.Fail(protocol.ErrNotFound, "unknown session "+params.SessionKey)
		return
	}

	entry, err := m.d.Sessions.Patch(params.SessionKey, func(e *sessions.Entry) {
		if params.ThinkingLevel != nil {
			e.ThinkingLevel = *params.ThinkingLevel
		}
		if params.VerboseLevel != nil {
			e.VerboseLevel = *params.VerboseLevel
		}
		if params.ReasoningLevel != nil {
			e.ReasoningLevel = *params.ReasoningLevel
		}
		if params.SendPolicy != nil {
			e.SendPolicy = *params.SendPolicy
		}
	})
	if err != nil {
		call.Fail(protocol.ErrInternal, "patch session: "+err.Error())
		return
	}
	call.OK(sessionRow{SessionKey: params.SessionKey, Entry: entry})
}

func (m *SessionsMethods) handleDelete(ctx context.Context, call *gateway.Call) {
	var params struct {
		SessionKey string `json:"sessionKey"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.SessionKey == "" {
		call.Fail(protocol.ErrInvalidRequest, "sessionKey is required")
		return
	}
	if err := m.d.Sessions.Delete(params.SessionKey); err != nil {
		call.Fail(protocol.ErrInternal, "delete session: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"deleted": params.SessionKey})
}
