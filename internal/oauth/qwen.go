package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// QwenProvider is the provider id qwen device-flow tokens land under.
const QwenProvider = "qwen-portal"

// QwenEndpoints are the device-flow endpoints.
type QwenEndpoints struct {
	DeviceCodeURL string
	TokenURL      string
	ClientID      string
	Scope         string
}

// DefaultQwenEndpoints returns the production endpoints.
func DefaultQwenEndpoints() QwenEndpoints {
	return QwenEndpoints{
		DeviceCodeURL: "https://chat.qwen.ai/api/v1/oauth2/device/code",
		TokenURL:      "https://chat.qwen.ai/api/v1/oauth2/token",
		ClientID:      "f0304373b74a44d2b584a3fb70ca9e56",
		Scope:         "openid profile email model.completion",
	}
}

// QwenStartResult is returned by oauth.qwen.start.
type QwenStartResult struct {
	State           string `json:"state"`
	VerificationURL string `json:"verificationUrl"`
	UserCode        string `json:"userCode"`
	IntervalMs      int64  `json:"intervalMs"`
	ExpiresAtMs     int64  `json:"expiresAtMs"`
}

// QwenPollResult is returned by oauth.qwen.poll.
type QwenPollResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StartQwen begins a device-code ceremony: request a device code with a
// PKCE challenge and hand the user the verification URL.
func (m *Manager) StartQwen(ctx context.Context) (*QwenStartResult, error) {
	verifier, challenge, err := pkcePair()
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"client_id":             {m.qwen.ClientID},
		"scope":                 {m.qwen.Scope},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}

	var body struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int64  `json:"expires_in"`
		Interval                int64  `json:"interval"`
	}
	if err := m.postForm(ctx, m.qwen.DeviceCodeURL, form, &body); err != nil {
		return nil, fmt.Errorf("qwen device code: %w", err)
	}
	if body.DeviceCode == "" {
		return nil, fmt.Errorf("qwen device code: empty response")
	}

	interval := body.Interval
	if interval <= 0 {
		interval = 5
	}
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultFlowTTL
	}

	expiresAt := m.now().Add(ttl)
	state := m.putSession(&flowSession{
		provider:   QwenProvider,
		verifier:   verifier,
		deviceCode: body.DeviceCode,
		expiresAt:  expiresAt,
		intervalMs: interval * 1000,
	})

	verificationURL := body.VerificationURIComplete
	if verificationURL == "" {
		verificationURL = body.VerificationURI
	}

	return &QwenStartResult{
		State:           state,
		VerificationURL: verificationURL,
		UserCode:        body.UserCode,
		IntervalMs:      interval * 1000,
		ExpiresAtMs:     expiresAt.UnixMilli(),
	}, nil
}

// PollQwen checks whether the user has approved the device. On success
// the token is stored, the config rebound, and the session erased.
func (m *Manager) PollQwen(ctx context.Context, state string) (*QwenPollResult, error) {
	sess, err := m.takeSession(state, QwenProvider)
	if err != nil {
		return &QwenPollResult{Status: StatusError, Error: err.Error()}, nil
	}

	form := url.Values{
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":     {m.qwen.ClientID},
		"device_code":   {sess.deviceCode},
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
	if err := m.postForm(ctx, m.qwen.TokenURL, form, &body); err != nil {
		return nil, fmt.Errorf("qwen token: %w", err)
	}

	switch {
	case body.Error == "authorization_pending", body.Error == "slow_down":
		return &QwenPollResult{Status: StatusPending}, nil
	case body.Error != "":
		m.dropSession(state)
		msg := body.Error
		if body.ErrorDesc != "" {
			msg += ": " + body.ErrorDesc
		}
		return &QwenPollResult{Status: StatusError, Error: msg}, nil
	case body.AccessToken == "":
		return &QwenPollResult{Status: StatusPending}, nil
	}

	profile := Profile{
		Provider:     QwenProvider,
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
	return &QwenPollResult{Status: StatusSuccess}, nil
}

// postForm sends a form POST and decodes the JSON reply. OAuth servers
// answer errors with non-2xx plus a JSON body, so both paths decode.
func (m *Manager) postForm(ctx context.Context, rawURL string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("http %d: parse response: %w", resp.StatusCode, err)
	}
	return nil
}
