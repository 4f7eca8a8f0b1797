package methods

import (
	"context"
	"errors"
	"fmt"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/mcp"
	"github.com/openclaw/clawd/pkg/protocol"
)

// MCPMethods serves the MCP hub: presets, provider snapshot/apply, and
// the market registry proxy.
type MCPMethods struct {
	d *Deps
}

// NewMCPMethods creates the MCP handler family.
func NewMCPMethods(d *Deps) *MCPMethods { return &MCPMethods{d: d} }

// Register wires the mcp.* method set.
func (m *MCPMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodMCPPresetsList, m.handlePresetsList)
	router.Handle(protocol.MethodMCPProvidersSnapshot, m.handleProvidersSnapshot)
	router.Handle(protocol.MethodMCPProvidersApply, m.handleProvidersApply)
	router.Handle(protocol.MethodMCPMarketSearch, m.handleMarketSearch)
	router.Handle(protocol.MethodMCPMarketDetail, m.handleMarketDetail)
	router.Handle(protocol.MethodMCPMarketInstall, m.handleMarketInstall)
	router.Handle(protocol.MethodMCPMarketUninstall, m.handleMarketUninstall)
	router.Handle(protocol.MethodMCPMarketRefresh, m.handleMarketRefresh)
}

func (m *MCPMethods) handlePresetsList(ctx context.Context, call *gateway.Call) {
	presets, err := m.d.Hub.Presets()
	if err != nil {
		call.Fail(protocol.ErrInternal, "load presets: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"presets": presets})
}

func (m *MCPMethods) handleProvidersSnapshot(ctx context.Context, call *gateway.Call) {
	snap, err := m.d.Hub.ProvidersSnapshot()
	if err != nil {
		call.Fail(protocol.ErrInternal, "snapshot providers: "+err.Error())
		return
	}
	call.OK(snap)
}

func (m *MCPMethods) handleProvidersApply(ctx context.Context, call *gateway.Call) {
	var req mcp.ApplyRequest
	if !call.Bind(&req) {
		return
	}
	if len(req.Providers) == 0 {
		call.Fail(protocol.ErrInvalidRequest, "providers is required")
		return
	}
	m.apply(ctx, call, req)
}

// apply runs one hub apply and maps its outcomes onto the wire codes.
func (m *MCPMethods) apply(ctx context.Context, call *gateway.Call, req mcp.ApplyRequest) {
	result, err := m.d.Hub.Apply(ctx, req)
	if err != nil {
		if errors.Is(err, config.ErrStaleHash) {
			call.Fail(protocol.ErrStaleHash, "config changed since base hash was taken")
			return
		}
		call.Fail(protocol.ErrInternal, "apply providers: "+err.Error())
		return
	}
	if len(result.FieldErrors) > 0 {
		call.FailWithFieldErrors(protocol.ErrInvalidRequest, "provider validation failed", result.FieldErrors)
		return
	}
	call.OK(result)
}

func (m *MCPMethods) handleMarketSearch(ctx context.Context, call *gateway.Call) {
	var params struct {
		Query           string `json:"query,omitempty"`
		Page            int    `json:"page,omitempty"`
		PageSize        int    `json:"pageSize,omitempty"`
		RegistryBaseURL string `json:"registryBaseUrl,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	result, err := m.d.Hub.Market().Search(ctx, params.Query, params.Page, params.PageSize, params.RegistryBaseURL)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "market search: "+err.Error())
		return
	}
	call.OK(result)
}

func (m *MCPMethods) handleMarketDetail(ctx context.Context, call *gateway.Call) {
	var params struct {
		QualifiedName   string `json:"qualifiedName"`
		RegistryBaseURL string `json:"registryBaseUrl,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.QualifiedName == "" {
		call.Fail(protocol.ErrInvalidRequest, "qualifiedName is required")
		return
	}
	detail, err := m.d.Hub.Market().Detail(ctx, params.QualifiedName, params.RegistryBaseURL)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "market detail: "+err.Error())
		return
	}
	call.OK(map[string]interface{}{"detail": detail})
}

func (m *MCPMethods) handleMarketInstall(ctx context.Context, call *gateway.Call) {
	var params struct {
		QualifiedName   string            `json:"qualifiedName"`
		ProviderID      string            `json:"providerId,omitempty"`
		BaseHash        string            `json:"baseHash,omitempty"`
		RegistryBaseURL string            `json:"registryBaseUrl,omitempty"`
		SecretValues    map[string]string `json:"secretValues,omitempty"`
		Enabled         *bool             `json:"enabled,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.QualifiedName == "" {
		call.Fail(protocol.ErrInvalidRequest, "qualifiedName is required")
		return
	}

	detail, err := m.d.Hub.Market().Detail(ctx, params.QualifiedName, params.RegistryBaseURL)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, "market detail: "+err.Error())
		return
	}
	conn, err := pickConnection(detail)
	if err != nil {
		call.Fail(protocol.ErrInvalidRequest, err.Error())
		return
	}

	providerID := params.ProviderID
	if providerID == "" {
		providerID = detail.QualifiedName
	}
	providerID = config.NormalizeProviderID(providerID)

	enabled := true
	if params.Enabled != nil {
		enabled = *params.Enabled
	}
	source := "catalog"
	spec := mcp.ProviderApply{
		ProviderID:    providerID,
		Enabled:       &enabled,
		Label:         &detail.DisplayName,
		Source:        &source,
		QualifiedName: &detail.QualifiedName,
		Connection: &config.ProviderConnection{
			Type:          "http",
			DeploymentURL: conn.DeploymentURL,
			AuthType:      conn.AuthType,
			ConfigSchema:  conn.ConfigSchema,
		},
		SecretValues:  params.SecretValues,
		DiscoverTools: true,
	}
	if len(params.SecretValues) > 0 {
		for field := range params.SecretValues {
			spec.RequiredSecrets = append(spec.RequiredSecrets, field)
		}
	}

	m.apply(ctx, call, mcp.ApplyRequest{
		BaseHash:  params.BaseHash,
		Providers: []mcp.ProviderApply{spec},
	})
}

func (m *MCPMethods) handleMarketUninstall(ctx context.Context, call *gateway.Call) {
	var params struct {
		ProviderID string `json:"providerId"`
		BaseHash   string `json:"baseHash,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.ProviderID == "" {
		call.Fail(protocol.ErrInvalidRequest, "providerId is required")
		return
	}
	providerID := config.NormalizeProviderID(params.ProviderID)
	configured := false
	m.apply(ctx, call, mcp.ApplyRequest{
		BaseHash:  params.BaseHash,
		Providers: []mcp.ProviderApply{{ProviderID: providerID, Configured: &configured}},
	})
}

// handleMarketRefresh re-runs tool discovery for installed market
// providers, or for one provider when providerId is set.
func (m *MCPMethods) handleMarketRefresh(ctx context.Context, call *gateway.Call) {
	var params struct {
		ProviderID string `json:"providerId,omitempty"`
		BaseHash   string `json:"baseHash,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}

	snap, err := m.d.Hub.ProvidersSnapshot()
	if err != nil {
		call.Fail(protocol.ErrInternal, "snapshot providers: "+err.Error())
		return
	}

	var providers []mcp.ProviderApply
	want := ""
	if params.ProviderID != "" {
		want = config.NormalizeProviderID(params.ProviderID)
	}
	for _, row := range snap.Rows {
		if want != "" && row.ProviderID != want {
			continue
		}
		if want == "" && row.Source != "catalog" {
			continue
		}
		if !row.Enabled || !row.SecretsSatisfied {
			continue
		}
		providers = append(providers, mcp.ProviderApply{ProviderID: row.ProviderID, DiscoverTools: true})
	}
	if len(providers) == 0 {
		call.Fail(protocol.ErrNotFound, "no refreshable providers")
		return
	}

	baseHash := params.BaseHash
	if baseHash == "" {
		baseHash = snap.Hash
	}
	m.apply(ctx, call, mcp.ApplyRequest{BaseHash: baseHash, Providers: providers})
}

func pickConnection(detail *mcp.MarketDetail) (mcp.MarketConnection, error) {
	for _, conn := range detail.Connections {
		if conn.DeploymentURL != "" {
			return conn, nil
		}
	}
	return mcp.MarketConnection{}, fmt.Errorf("server %q lists no usable connection", detail.QualifiedName)
}
