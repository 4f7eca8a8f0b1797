package methods

import (
	"context"
	"errors"
	"fmt"

	"github.com/openclaw/clawd/internal/channels"
	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/pkg/protocol"
)

// ChannelsMethods serves channel adapter lifecycle and lookups.
type ChannelsMethods struct {
	d *Deps
}

// NewChannelsMethods creates the channels handler family.
func NewChannelsMethods(d *Deps) *ChannelsMethods { return &ChannelsMethods{d: d} }

// Register wires the channels.* method set.
func (m *ChannelsMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodChannelsStatus, m.handleStatus)
	router.Handle(protocol.MethodChannelsList, m.handleList)
	router.Handle(protocol.MethodChannelsAdd, m.handleAdd)
	router.Handle(protocol.MethodChannelsRemove, m.handleRemove)
	router.Handle(protocol.MethodChannelsLogin, m.handleLogin)
	router.Handle(protocol.MethodChannelsLogout, m.handleLogout)
	router.Handle(protocol.MethodChannelsCapabilities, m.handleCapabilities)
	router.Handle(protocol.MethodChannelsResolve, m.handleResolve)
	router.Handle(protocol.MethodChannelsLogs, m.handleLogs)
}

// channelParams is the common single-channel selector.
type channelParams struct {
	Channel string `json:"channel"`
}

func (m *ChannelsMethods) adapter(call *gateway.Call, name string) (channels.Adapter, bool) {
	if name == "" {
		call.Fail(protocol.ErrInvalidRequest, "channel is required")
		return nil, false
	}
	adapter, ok := m.d.Channels.Get(name)
	if !ok {
		call.Fail(protocol.ErrNotFound, fmt.Sprintf("unknown channel %q", name))
		return nil, false
	}
	return adapter, true
}

func (m *ChannelsMethods) handleStatus(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{"channels": m.d.Channels.Status(ctx)})
}

func (m *ChannelsMethods) handleList(ctx context.Context, call *gateway.Call) {
	names := m.d.Channels.Names()
	rows := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		adapter, _ := m.d.Channels.Get(name)
		rows = append(rows, map[string]interface{}{
			"channel":    name,
			"configured": adapter.Configured(),
			"running":    adapter.Running(),
		})
	}
	call.OK(map[string]interface{}{"channels": rows})
}

// handleAdd stores channel credentials in config and enables the
// channel. The adapter picks the new token up on the next login.
func (m *ChannelsMethods) handleAdd(ctx context.Context, call *gateway.Call) {
	var params struct {
		Channel  string `json:"channel"`
		Token    string `json:"token"`
		BaseHash string `json:"baseHash,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if _, ok := m.adapter(call, params.Channel); !ok {
		return
	}
	if params.Token == "" {
		call.Fail(protocol.ErrInvalidRequest, "token is required")
		return
	}

	patch := map[string]interface{}{
		"channels": map[string]interface{}{
			params.Channel: map[string]interface{}{
				"enabled": true,
				"token":   params.Token,
			},
		},
	}
	snap, _, err := m.d.Store.Patch(patch, params.BaseHash)
	if err != nil {
		if errors.Is(err, config.ErrStaleHash) {
			call.Fail(protocol.ErrStaleHash, "config changed since base hash was taken")
			return
		}
		call.Fail(protocol.ErrInternal, "store channel config: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"channel": params.Channel, "hash": snap.Hash})
}

func (m *ChannelsMethods) handleRemove(ctx context.Context, call *gateway.Call) {
	var params struct {
		Channel  string `json:"channel"`
		BaseHash string `json:"baseHash,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	adapter, ok := m.adapter(call, params.Channel)
	if !ok {
		return
	}
	if adapter.Running() {
		if err := m.d.Channels.Logout(ctx, params.Channel); err != nil {
			call.Fail(protocol.ErrInternal, "stop channel: "+err.Error())
			return
		}
	}

	patch := map[string]interface{}{
		"channels": map[string]interface{}{
			params.Channel: map[string]interface{}{
				"enabled": false,
				"token":   "",
			},
		},
	}
	snap, _, err := m.d.Store.Patch(patch, params.BaseHash)
	if err != nil {
		if errors.Is(err, config.ErrStaleHash) {
			call.Fail(protocol.ErrStaleHash, "config changed since base hash was taken")
			return
		}
		call.Fail(protocol.ErrInternal, "store channel config: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"channel": params.Channel, "hash": snap.Hash})
}

func (m *ChannelsMethods) handleLogin(ctx context.Context, call *gateway.Call) {
	var params channelParams
	if !call.Bind(&params) {
		return
	}
	if _, ok := m.adapter(call, params.Channel); !ok {
		return
	}
	if err := m.d.Channels.Login(ctx, params.Channel); err != nil {
		call.Fail(protocol.ErrUnavailable, "login: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"channel": params.Channel, "running": true})
}

func (m *ChannelsMethods) handleLogout(ctx context.Context, call *gateway.Call) {
	var params channelParams
	if !call.Bind(&params) {
		return
	}
	if _, ok := m.adapter(call, params.Channel); !ok {
		return
	}
	if err := m.d.Channels.Logout(ctx, params.Channel); err != nil {
		call.Fail(protocol.ErrInternal, "logout: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"channel": params.Channel, "running": false})
}

func (m *ChannelsMethods) handleCapabilities(ctx context.Context, call *gateway.Call) {
	var params channelParams
	if !call.Bind(&params) {
		return
	}
	adapter, ok := m.adapter(call, params.Channel)
	if !ok {
		return
	}
	call.OK(map[string]interface{}{
		"channel":      params.Channel,
		"capabilities": adapter.Capabilities(),
	})
}

func (m *ChannelsMethods) handleResolve(ctx context.Context, call *gateway.Call) {
	var params struct {
		Channel string `json:"channel"`
		Target  string `json:"target"`
	}
	if !call.Bind(&params) {
		return
	}
	adapter, ok := m.adapter(call, params.Channel)
	if !ok {
		return
	}
	if params.Target == "" {
		call.Fail(protocol.ErrInvalidRequest, "target is required")
		return
	}
	if !adapter.Running() {
		call.Fail(protocol.ErrUnavailable, fmt.Sprintf("channel %q is not running", params.Channel))
		return
	}

	result, err := adapter.Resolve(ctx, params.Target)
	if err != nil {
		call.Fail(protocol.ErrNotFound, "resolve: "+err.Error())
		return
	}
	call.OK(result)
}

func (m *ChannelsMethods) handleLogs(ctx context.Context, call *gateway.Call) {
	var params struct {
		Channel string `json:"channel,omitempty"`
		Limit   int    `json:"limit,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if m.d.Logs == nil {
		call.Fail(protocol.ErrUnavailable, "log store not available")
		return
	}
	rows, err := m.d.Logs.ChannelLogs(params.Channel, params.Limit)
	if err != nil {
		call.Fail(protocol.ErrInternal, "read channel logs: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"logs": rows})
}
