package methods

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/pkg/protocol"
)

// ConfigMethods serves the config surface: masked reads, the schema,
// and baseHash-guarded writes.
type ConfigMethods struct {
	d *Deps
}

// NewConfigMethods creates the config handler family.
func NewConfigMethods(d *Deps) *ConfigMethods { return &ConfigMethods{d: d} }

// Register wires config.get, config.schema, config.apply, config.patch.
func (m *ConfigMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodConfigGet, m.handleGet)
	router.Handle(protocol.MethodConfigSchema, m.handleSchema)
	router.Handle(protocol.MethodConfigApply, m.handleApply)
	router.Handle(protocol.MethodConfigPatch, m.handlePatch)
}

func (m *ConfigMethods) handleGet(ctx context.Context, call *gateway.Call) {
	snap, err := m.d.Store.ReadSnapshot()
	if err != nil {
		call.Fail(protocol.ErrInternal, "read config: "+err.Error())
		return
	}
	result := map[string]interface{}{
		"exists": snap.Exists,
		"valid":  snap.Valid,
		"hash":   snap.Hash,
	}
	if len(snap.Issues) > 0 {
		result["issues"] = snap.Issues
	}
	if snap.Config != nil {
		result["config"] = snap.Config.MaskedCopy()
	}
	call.OK(result)
}

func (m *ConfigMethods) handleSchema(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{"schema": config.Schema()})
}

func (m *ConfigMethods) handleApply(ctx context.Context, call *gateway.Call) {
	var params struct {
		Config   *config.Config `json:"config"`
		BaseHash string         `json:"baseHash,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.Config == nil {
		call.Fail(protocol.ErrInvalidRequest, "config is required")
		return
	}

	snap, err := m.d.Store.Apply(params.Config, params.BaseHash)
	if err != nil {
		if errors.Is(err, config.ErrStaleHash) {
			call.Fail(protocol.ErrStaleHash, "config changed since base hash was taken")
			return
		}
		if snap != nil && !snap.Valid {
			call.FailWithDetails(protocol.ErrInvalidRequest, "config validation failed", snap.Issues)
			return
		}
		call.Fail(protocol.ErrInternal, "apply config: "+err.Error())
		return
	}

	slog.Info("config.applied", "hash", snap.Hash)
	call.OK(map[string]interface{}{"hash": snap.Hash, "valid": snap.Valid})
}

func (m *ConfigMethods) handlePatch(ctx context.Context, call *gateway.Call) {
	var params struct {
		Patch    map[string]interface{} `json:"patch"`
		BaseHash string                 `json:"baseHash,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if len(params.Patch) == 0 {
		call.Fail(protocol.ErrInvalidRequest, "patch is required")
		return
	}

	snap, changed, err := m.d.Store.Patch(params.Patch, params.BaseHash)
	if err != nil {
		if errors.Is(err, config.ErrStaleHash) {
			call.Fail(protocol.ErrStaleHash, "config changed since base hash was taken")
			return
		}
		if snap != nil && !snap.Valid {
			call.FailWithDetails(protocol.ErrInvalidRequest, "config validation failed", snap.Issues)
			return
		}
		call.Fail(protocol.ErrInternal, "patch config: "+err.Error())
		return
	}

	slog.Info("config.patched", "hash", snap.Hash, "paths", changed)
	call.OK(map[string]interface{}{"hash": snap.Hash, "changedPaths": changed})
}
