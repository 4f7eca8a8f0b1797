// Package methods registers the gateway's RPC handler families. Each
// family is a small struct over the components it needs; RegisterAll
// wires the full method set onto a router.
package methods

import (
	"time"

	"github.com/openclaw/clawd/internal/bus"
	"github.com/openclaw/clawd/internal/channels"
	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/logs"
	"github.com/openclaw/clawd/internal/mcp"
	"github.com/openclaw/clawd/internal/models"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/internal/oauth"
	"github.com/openclaw/clawd/internal/pairing"
	"github.com/openclaw/clawd/internal/restart"
	"github.com/openclaw/clawd/internal/sessions"
	"github.com/openclaw/clawd/internal/skills"
	"github.com/openclaw/clawd/internal/tools"
	"github.com/openclaw/clawd/internal/update"
)

// Deps carries every component the handler families draw on. Optional
// fields may be nil; their methods then fail with UNAVAILABLE.
type Deps struct {
	Store     *config.Store
	Server    *gateway.Server
	Pub       bus.EventPublisher
	AgentBus  *bus.AgentBus
	Hub       *mcp.Hub
	Fabric    *tools.Fabric
	Nodes     *nodes.Registry
	Sessions  *sessions.Store
	Channels  *channels.Registry
	OAuth     *oauth.Manager
	Logs      *logs.Store
	Catalog   *models.Catalog
	Update    *update.Runner
	Skills    *skills.Service
	Pairing   *pairing.Service
	Scheduler *restart.Scheduler

	Version   string
	StartedAt time.Time
}

// RegisterAll wires the complete method set.
func RegisterAll(router *gateway.Router, d *Deps) {
	NewCoreMethods(d).Register(router)
	NewConfigMethods(d).Register(router)
	NewMCPMethods(d).Register(router)
	NewToolsMethods(d).Register(router)
	NewNodesMethods(d).Register(router)
	NewSessionsMethods(d).Register(router)
	NewChannelsMethods(d).Register(router)
	NewChatMethods(d).Register(router)
	NewSkillsMethods(d).Register(router)
	NewPairingMethods(d).Register(router)
	NewOAuthMethods(d).Register(router)
	NewLogsMethods(d).Register(router)
	NewUpdateMethods(d).Register(router)
}
