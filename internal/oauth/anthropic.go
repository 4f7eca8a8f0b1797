package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AnthropicProvider is the provider id PKCE tokens land under.
const AnthropicProvider = "anthropic"

// AnthropicEndpoints are the PKCE endpoints.
type AnthropicEndpoints struct {
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	RedirectURI  string
	Scope        string
}

// DefaultAnthropicEndpoints returns the production endpoints.
func DefaultAnthropicEndpoints() AnthropicEndpoints {
	return AnthropicEndpoints{
		AuthorizeURL: "https://claude.ai/oauth/authorize",
		TokenURL:     "https://console.anthropic.com/v1/oauth/token",
		ClientID:     "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		RedirectURI:  "https://console.anthropic.com/oauth/code/callback",
		Scope:        "org:create_api_key user:profile user:inference",
	}
}

// AnthropicStartResult is returned by oauth.anthropic.start.
type AnthropicStartResult struct {
	State       string `json:"state"`
	AuthURL     string `json:"authUrl"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// AnthropicCompleteResult is returned by oauth.anthropic.complete.
type AnthropicCompleteResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StartAnthropic builds the authorize URL with a fresh PKCE pair.
func (m *Manager) StartAnthropic(ctx context.Context) (*AnthropicStartResult, error) {
	verifier, challenge, err := pkcePair()
	if err != nil {
		return nil, err
	}

	expiresAt := m.now().Add(defaultFlowTTL)
	state := m.putSession(&flowSession{
		provider:  AnthropicProvider,
		verifier:  verifier,
		expiresAt: expiresAt,
	})

	q := url.Values{
		"code":                  {"true"},
		"client_id":             {m.anthropic.ClientID},
		"response_type":         {"code"},
		"redirect_uri":          {m.anthropic.RedirectURI},
		"scope":                 {m.anthropic.Scope},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}

	return &AnthropicStartResult{
		State:       state,
		AuthURL:     m.anthropic.AuthorizeURL + "?" + q.Encode(),
		ExpiresAtMs: expiresAt.UnixMilli(),
	}, nil
}

// CompleteAnthropic exchanges the pasted authorization code. The
// console shows it as "<code>#<state>"; both that form and a bare code
// are accepted.
func (m *Manager) CompleteAnthropic(ctx context.Context, state, code string) (*AnthropicCompleteResult, error) {
	sess, err := m.takeSession(state, AnthropicProvider)
	if err != nil {
		return &AnthropicCompleteResult{Status: StatusError, Error: err.Error()}, nil
	}

	code = strings.TrimSpace(code)
	if idx := strings.Index(code, "#"); idx >= 0 {
		code = code[:idx]
	}
	if code == "" {
		return &AnthropicCompleteResult{Status: StatusError, Error: "code is required"}, nil
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {m.anthropic.ClientID},
		"code":          {code},
		"state":         {state},
		"redirect_uri":  {m.anthropic.RedirectURI},
		"code_verifier": {sess.verifier},
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		Error        string `json:"error"`
		ErrorDesc    string `json:"error_description"`
	}
	if err := m.postForm(ctx, m.anthropic.TokenURL, form, &body); err != nil {
		return nil, fmt.Errorf("anthropic token: %w", err)
	}
	if body.Error != "" {
		m.dropSession(state)
		msg := body.Error
		if body.ErrorDesc != "" {
			msg += ": " + body.ErrorDesc
		}
		return &AnthropicCompleteResult{Status: StatusError, Error: msg}, nil
	}
	if body.AccessToken == "" {
		m.dropSession(state)
		return &AnthropicCompleteResult{Status: StatusError, Error: "token exchange returned no access token"}, nil
	}

	profile := Profile{
		Provider:     AnthropicProvider,
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
	}
	if body.ExpiresIn > 0 {
		profile.ExpiresAtMs = m.now().Add(time.Duration(body.ExpiresIn) * time.Second).UnixMilli()
	}
	if err := m.finish(state, profile); err != nil {
		return nil, err
	}
	return &AnthropicCompleteResult{Status: StatusSuccess}, nil
}
