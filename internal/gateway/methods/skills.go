package methods

import (
	"context"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/skills"
	"github.com/openclaw/clawd/pkg/protocol"
)

// SkillsMethods serves the skill catalog.
type SkillsMethods struct {
	d *Deps
}

// NewSkillsMethods creates the skills handler family.
func NewSkillsMethods(d *Deps) *SkillsMethods { return &SkillsMethods{d: d} }

// Register wires the skills.* method set.
func (m *SkillsMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodSkillsList, m.handleList)
	router.Handle(protocol.MethodSkillsStatus, m.handleStatus)
	router.Handle(protocol.MethodSkillsBins, m.handleBins)
	router.Handle(protocol.MethodSkillsInstall, m.runAction("install", m.d.Skills.Install))
	router.Handle(protocol.MethodSkillsUpdate, m.runAction("update", m.d.Skills.Update))
	router.Handle(protocol.MethodSkillsUninstall, m.runAction("uninstall", m.d.Skills.Uninstall))
}

func (m *SkillsMethods) handleList(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{"skills": m.d.Skills.List()})
}

func (m *SkillsMethods) handleStatus(ctx context.Context, call *gateway.Call) {
	var params struct {
		Name string `json:"name,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.Name == "" {
		call.OK(map[string]interface{}{"skills": m.d.Skills.StatusAll()})
		return
	}
	status, err := m.d.Skills.StatusOf(params.Name)
	if err != nil {
		call.Fail(protocol.ErrNotFound, err.Error())
		return
	}
	call.OK(status)
}

func (m *SkillsMethods) handleBins(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{"bins": m.d.Skills.Bins()})
}

func (m *SkillsMethods) runAction(action string, run func(context.Context, string) (*skills.RunResult, error)) gateway.Handler {
	return func(ctx context.Context, call *gateway.Call) {
		var params struct {
			Name string `json:"name"`
		}
		if !call.Bind(&params) {
			return
		}
		if params.Name == "" {
			call.Fail(protocol.ErrInvalidRequest, "name is required")
			return
		}
		result, err := run(ctx, params.Name)
		if err != nil {
			call.Fail(protocol.ErrInvalidRequest, action+": "+err.Error())
			return
		}
		call.OK(result)
	}
}
