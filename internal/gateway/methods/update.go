package methods

import (
	"context"
	"errors"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/update"
	"github.com/openclaw/clawd/pkg/protocol"
)

// UpdateMethods serves update.run and the model catalog.
type UpdateMethods struct {
	d *Deps
}

// NewUpdateMethods creates the update handler family.
func NewUpdateMethods(d *Deps) *UpdateMethods { return &UpdateMethods{d: d} }

// Register wires update.run and models.list.
func (m *UpdateMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodUpdateRun, m.handleUpdateRun)
	router.Handle(protocol.MethodModelsList, m.handleModelsList)
}

func (m *UpdateMethods) handleUpdateRun(ctx context.Context, call *gateway.Call) {
	result, err := m.d.Update.Run(ctx)
	if err != nil {
		if errors.Is(err, update.ErrAlreadyRunning) {
			call.Fail(protocol.ErrUnavailable, err.Error())
			return
		}
		call.Fail(protocol.ErrUnavailable, "update check: "+err.Error())
		return
	}
	call.OK(result)
}

func (m *UpdateMethods) handleModelsList(ctx context.Context, call *gateway.Call) {
	var params struct {
		Force bool `json:"force,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	models, updatedAtMs, err := m.d.Catalog.List(ctx, params.Force)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "refresh models: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"models": models, "updatedAtMs": updatedAtMs})
}
