package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/netguard"
)

const (
	fetchDefaultMaxChars = 50000
	fetchTimeout         = 30 * time.Second
	fetchUserAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// RegisterWebFetch installs the web.fetch builtin. The tool fetches a
// URL through the SSRF guard and extracts its content as markdown,
// text, or pretty-printed JSON.
func RegisterWebFetch(src *BuiltinSource, getCfg func() config.WebFetchConfig) {
	src.Register(Builtin{
		Command:     "web.fetch",
		Description: "Fetch a URL and extract its content. Supports HTML (converted to markdown/text), JSON, and plain text.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "HTTP or HTTPS URL to fetch.",
				},
				"extractMode": map[string]interface{}{
					"type":        "string",
					"description": `Extraction mode ("markdown" or "text"). Default: "markdown".`,
					"enum":        []string{"markdown", "text"},
				},
				"maxChars": map[string]interface{}{
					"type":        "number",
					"description": "Maximum characters to return (truncates when exceeded).",
					"minimum":     100.0,
				},
			},
			"required": []string{"url"},
		},
		Enabled: func() bool { return getCfg().Enabled },
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return runWebFetch(ctx, getCfg(), args)
		},
	})
}

func runWebFetch(ctx context.Context, cfg config.WebFetchConfig, args map[string]interface{}) (interface{}, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidCall)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrInvalidCall, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https urls are supported", ErrInvalidCall)
	}

	extractMode := "markdown"
	if em, ok := args["extractMode"].(string); ok && (em == "markdown" || em == "text") {
		extractMode = em
	}

	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = fetchDefaultMaxChars
	}
	if mc, ok := args["maxChars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}

	guard := &netguard.Guard{AllowPrivate: cfg.AllowPrivateNetwork}
	if err := guard.CheckURL(rawURL); err != nil {
		return nil, fmt.Errorf("ssrf guard: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := guard.Client(fetchTimeout).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	// Read extra over the char budget: HTML carries markup overhead.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)*4))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text, extractor string
	switch {
	case strings.Contains(contentType, "application/json"):
		text, extractor = extractJSON(body)
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		if extractMode == "markdown" {
			text, extractor = htmlToMarkdown(string(body)), "html-to-markdown"
		} else {
			text, extractor = htmlToText(string(body)), "html-to-text"
		}
	default:
		text, extractor = string(body), "raw"
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	return map[string]interface{}{
		"url":       resp.Request.URL.String(),
		"status":    resp.StatusCode,
		"extractor": extractor,
		"truncated": truncated,
		"length":    len(text),
		"text":      text,
	}, nil
}
