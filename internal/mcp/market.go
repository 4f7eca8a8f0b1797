package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/clawd/internal/netguard"
)

// DefaultRegistryTimeout bounds one market registry request.
const DefaultRegistryTimeout = 10 * time.Second

// MarketItem is one registry search hit.
type MarketItem struct {
	QualifiedName string `json:"qualifiedName"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description,omitempty"`
	IconURL       string `json:"iconUrl,omitempty"`
}

// MarketPagination echoes the registry's paging state.
type MarketPagination struct {
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
	TotalPages  int `json:"totalPages"`
	TotalCount  int `json:"totalCount"`
}

// MarketSearchResult is the mapped /servers response.
type MarketSearchResult struct {
	Items      []MarketItem     `json:"items"`
	Pagination MarketPagination `json:"pagination"`
}

// MarketConnection is one way to reach a listed server.
type MarketConnection struct {
	Type          string                 `json:"type"`
	DeploymentURL string                 `json:"deploymentUrl"`
	AuthType      string                 `json:"authType,omitempty"`
	ConfigSchema  map[string]interface{} `json:"configSchema,omitempty"`
}

// MarketDetail is the mapped per-server detail.
type MarketDetail struct {
	QualifiedName string             `json:"qualifiedName"`
	DisplayName   string             `json:"displayName"`
	Description   string             `json:"description,omitempty"`
	IconURL       string             `json:"iconUrl,omitempty"`
	Connections   []MarketConnection `json:"connections"`
}

// MarketClient proxies the remote MCP registry through the SSRF guard.
type MarketClient struct {
	guard   *netguard.Guard
	baseURL string
}

// NewMarketClient creates a client with the configured default registry.
func NewMarketClient(guard *netguard.Guard, baseURL string) *MarketClient {
	if guard == nil {
		guard = &netguard.Guard{}
	}
	return &MarketClient{guard: guard, baseURL: strings.TrimRight(baseURL, "/")}
}

// resolveBase applies a per-request registry override.
func (m *MarketClient) resolveBase(override string) (string, error) {
	base := m.baseURL
	if override != "" {
		base = strings.TrimRight(override, "/")
	}
	if base == "" {
		return "", fmt.Errorf("no registry url configured")
	}
	return base, nil
}

// Search queries /servers and maps the result shape.
func (m *MarketClient) Search(ctx context.Context, query string, page, pageSize int, registryOverride string) (*MarketSearchResult, error) {
	base, err := m.resolveBase(registryOverride)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var body struct {
		Servers []struct {
			QualifiedName string `json:"qualifiedName"`
			DisplayName   string `json:"displayName"`
			Description   string `json:"description"`
			IconURL       string `json:"iconUrl"`
		} `json:"servers"`
		Pagination MarketPagination `json:"pagination"`
	}
	if err := m.getJSON(ctx, base+"/servers?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	result := &MarketSearchResult{
		Items:      make([]MarketItem, 0, len(body.Servers)),
		Pagination: body.Pagination,
	}
	for _, s := range body.Servers {
		if s.QualifiedName == "" {
			continue
		}
		name := s.DisplayName
		if name == "" {
			name = s.QualifiedName
		}
		result.Items = append(result.Items, MarketItem{
			QualifiedName: s.QualifiedName,
			DisplayName:   name,
			Description:   s.Description,
			IconURL:       s.IconURL,
		})
	}
	if result.Pagination.CurrentPage == 0 {
		result.Pagination.CurrentPage = page
	}
	if result.Pagination.PageSize == 0 {
		result.Pagination.PageSize = pageSize
	}
	return result, nil
}

// Detail fetches one server's detail, keeping only http connections
// with a deployment url.
func (m *MarketClient) Detail(ctx context.Context, qualifiedName, registryOverride string) (*MarketDetail, error) {
	if qualifiedName == "" {
		return nil, fmt.Errorf("qualifiedName is required")
	}
	base, err := m.resolveBase(registryOverride)
	if err != nil {
		return nil, err
	}

	var body struct {
		QualifiedName string `json:"qualifiedName"`
		DisplayName   string `json:"displayName"`
		Description   string `json:"description"`
		IconURL       string `json:"iconUrl"`
		Connections   []struct {
			Type          string                 `json:"type"`
			DeploymentURL string                 `json:"deploymentUrl"`
			AuthType      string                 `json:"authType"`
			ConfigSchema  map[string]interface{} `json:"configSchema"`
		} `json:"connections"`
	}
	if err := m.getJSON(ctx, base+"/servers/"+url.PathEscape(qualifiedName), &body); err != nil {
		return nil, err
	}

	detail := &MarketDetail{
		QualifiedName: body.QualifiedName,
		DisplayName:   body.DisplayName,
		Description:   body.Description,
		IconURL:       body.IconURL,
	}
	if detail.QualifiedName == "" {
		detail.QualifiedName = qualifiedName
	}
	if detail.DisplayName == "" {
		detail.DisplayName = detail.QualifiedName
	}
	for _, conn := range body.Connections {
		if conn.Type != "http" || conn.DeploymentURL == "" {
			continue
		}
		detail.Connections = append(detail.Connections, MarketConnection{
			Type:          "http",
			DeploymentURL: conn.DeploymentURL,
			AuthType:      conn.AuthType,
			ConfigSchema:  conn.ConfigSchema,
		})
	}
	return detail, nil
}

func (m *MarketClient) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	if err := m.guard.CheckURL(rawURL); err != nil {
		return fmt.Errorf("ssrf guard: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultRegistryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.guard.Client(0).Do(req)
	if err != nil {
		return fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("registry http %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(data)), remoteErrorMax))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse registry response: %w", err)
	}
	return nil
}
