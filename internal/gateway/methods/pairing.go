package methods

import (
	"context"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/pkg/protocol"
)

// PairingMethods serves pending channel pairings. Approval is limited
// to configured owner principals when gateway.owner_ids is set.
type PairingMethods struct {
	d *Deps
}

// NewPairingMethods creates the pairing handler family.
func NewPairingMethods(d *Deps) *PairingMethods { return &PairingMethods{d: d} }

// Register wires pairing.list and pairing.approve.
func (m *PairingMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodPairingList, m.handleList)
	router.Handle(protocol.MethodPairingApprove, m.handleApprove)
}

func (m *PairingMethods) handleList(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{"requests": m.d.Pairing.List()})
}

func (m *PairingMethods) handleApprove(ctx context.Context, call *gateway.Call) {
	var params struct {
		ID       string `json:"id"`
		Approver string `json:"approver,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.ID == "" {
		call.Fail(protocol.ErrInvalidRequest, "id is required")
		return
	}

	owners := m.d.Server.Cfg().Gateway.OwnerIDs
	if len(owners) > 0 && !contains(owners, params.Approver) {
		call.Fail(protocol.ErrUnauthorized, "approver is not an owner")
		return
	}

	approved, err := m.d.Pairing.Approve(params.ID)
	if err != nil {
		call.Fail(protocol.ErrNotFound, err.Error())
		return
	}
	call.OK(approved)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
