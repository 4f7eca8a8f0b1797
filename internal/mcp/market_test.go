package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclaw/clawd/internal/netguard"
)

func testMarket(baseURL string) *MarketClient {
	return NewMarketClient(&netguard.Guard{AllowPrivate: true}, baseURL)
}

func TestMarketSearchMapsRegistryShape(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/servers" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, `{
			"servers": [
				{"qualifiedName":"exa","displayName":"Exa Search","description":"web search","iconUrl":"https://x/icon.png"},
				{"qualifiedName":"","displayName":"broken"},
				{"qualifiedName":"plain"}
			],
			"pagination": {"currentPage":1,"pageSize":20,"totalPages":3,"totalCount":41}
		}`)
	}))
	defer srv.Close()

	result, err := testMarket(srv.URL).Search(context.Background(), "exa", 1, 20, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "exa" {
		t.Errorf("q = %q", gotQuery)
	}
	if len(result.Items) != 2 {
		t.Fatalf("items = %+v, want the nameless entry dropped", result.Items)
	}
	if result.Items[0].DisplayName != "Exa Search" {
		t.Errorf("item = %+v", result.Items[0])
	}
	if result.Items[1].DisplayName != "plain" {
		t.Errorf("missing displayName should fall back to qualifiedName: %+v", result.Items[1])
	}
	if result.Pagination.TotalCount != 41 || result.Pagination.TotalPages != 3 {
		t.Errorf("pagination = %+v", result.Pagination)
	}
}

func TestMarketDetailKeepsOnlyHTTPConnections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/servers/exa" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{
			"qualifiedName":"exa",
			"displayName":"Exa",
			"connections":[
				{"type":"http","deploymentUrl":"https://exa.run.tools","authType":"bearer"},
				{"type":"stdio","deploymentUrl":""},
				{"type":"http","deploymentUrl":""}
			]
		}`)
	}))
	defer srv.Close()

	detail, err := testMarket(srv.URL).Detail(context.Background(), "exa", "")
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if len(detail.Connections) != 1 {
		t.Fatalf("connections = %+v, want only the usable http one", detail.Connections)
	}
	if detail.Connections[0].DeploymentURL != "https://exa.run.tools" {
		t.Errorf("connection = %+v", detail.Connections[0])
	}
}

func TestMarketRegistryOverride(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		fmt.Fprint(w, `{"servers":[],"pagination":{}}`)
	}))
	defer srv.Close()

	// Client configured with no base URL at all: the override must carry.
	if _, err := testMarket("").Search(context.Background(), "", 1, 20, srv.URL); err != nil {
		t.Fatalf("Search with override: %v", err)
	}
	if !hit {
		t.Error("override registry never contacted")
	}

	if _, err := testMarket("").Search(context.Background(), "", 1, 20, ""); err == nil {
		t.Error("expected an error with no registry configured")
	}
}
