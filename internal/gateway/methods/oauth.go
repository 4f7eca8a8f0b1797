package methods

import (
	"context"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/pkg/protocol"
)

// OAuthMethods serves the provider login flows.
type OAuthMethods struct {
	d *Deps
}

// NewOAuthMethods creates the oauth handler family.
func NewOAuthMethods(d *Deps) *OAuthMethods { return &OAuthMethods{d: d} }

// Register wires the qwen device flow and the anthropic PKCE flow.
func (m *OAuthMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodOAuthQwenStart, m.handleQwenStart)
	router.Handle(protocol.MethodOAuthQwenPoll, m.handleQwenPoll)
	router.Handle(protocol.MethodOAuthAnthropicStart, m.handleAnthropicStart)
	router.Handle(protocol.MethodOAuthAnthropicComplete, m.handleAnthropicComplete)
}

func (m *OAuthMethods) handleQwenStart(ctx context.Context, call *gateway.Call) {
	result, err := m.d.OAuth.StartQwen(ctx)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "start qwen flow: "+err.Error())
		return
	}
	call.OK(result)
}

func (m *OAuthMethods) handleQwenPoll(ctx context.Context, call *gateway.Call) {
	var params struct {
		State string `json:"state"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.State == "" {
		call.Fail(protocol.ErrInvalidRequest, "state is required")
		return
	}
	result, err := m.d.OAuth.PollQwen(ctx, params.State)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "poll qwen flow: "+err.Error())
		return
	}
	call.OK(result)
}

func (m *OAuthMethods) handleAnthropicStart(ctx context.Context, call *gateway.Call) {
	result, err := m.d.OAuth.StartAnthropic(ctx)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "start anthropic flow: "+err.Error())
		return
	}
	call.OK(result)
}

func (m *OAuthMethods) handleAnthropicComplete(ctx context.Context, call *gateway.Call) {
	var params struct {
		State string `json:"state"`
		Code  string `json:"code"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.State == "" {
		call.Fail(protocol.ErrInvalidRequest, "state is required")
		return
	}
	result, err := m.d.OAuth.CompleteAnthropic(ctx, params.State, params.Code)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "complete anthropic flow: "+err.Error())
		return
	}
	call.OK(result)
}
