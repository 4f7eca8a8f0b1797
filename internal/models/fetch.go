package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openclaw/clawd/internal/netguard"
)

const fetchTimeout = 15 * time.Second

// HTTPFetcher pulls the catalog from a remote manifest. The body may
// be either {"models":[...]} or a bare array.
func HTTPFetcher(guard *netguard.Guard, url string) Fetcher {
	client := guard.Client(fetchTimeout)
	return func(ctx context.Context) ([]Model, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("catalog endpoint returned %d: %s", resp.StatusCode, string(body))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}

		var wrapped struct {
			Models []Model `json:"models"`
		}
		if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Models != nil {
			return wrapped.Models, nil
		}
		var bare []Model
		if err := json.Unmarshal(data, &bare); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		return bare, nil
	}
}

// StaticFetcher serves the bundled list, used when no catalog URL is
// configured.
func StaticFetcher() Fetcher {
	return func(ctx context.Context) ([]Model, error) {
		return builtinCatalog(), nil
	}
}

// builtinCatalog covers the providers the oauth flows credential.
func builtinCatalog() []Model {
	return []Model{
		{ID: "claude-opus-4-5", Name: "Claude Opus 4.5", Provider: "anthropic"},
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Provider: "anthropic"},
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Provider: "anthropic"},
		{ID: "qwen3-max", Name: "Qwen 3 Max", Provider: "qwen-portal"},
		{ID: "qwen3-coder-plus", Name: "Qwen 3 Coder Plus", Provider: "qwen-portal"},
		{ID: "qwen3-coder-flash", Name: "Qwen 3 Coder Flash", Provider: "qwen-portal"},
	}
}
