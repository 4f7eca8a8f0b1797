package tools

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/netguard"
)

const browserRenderTimeout = 45 * time.Second

// RegisterBrowserRender installs the browser.render builtin: load a
// page in a headless browser so JS-rendered content is visible, then
// return the rendered text. Disabled unless config.tools.browser.enabled.
func RegisterBrowserRender(src *BuiltinSource, getCfg func() config.BrowserToolConfig) {
	src.Register(Builtin{
		Command:     "browser.render",
		Description: "Render a URL in a headless browser and return the page text after JS execution.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "HTTP or HTTPS URL to render.",
				},
				"waitMs": map[string]interface{}{
					"type":        "number",
					"description": "Extra settle time after load, in milliseconds (max 10000).",
				},
			},
			"required": []string{"url"},
		},
		Enabled: func() bool { return getCfg().Enabled },
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return runBrowserRender(ctx, getCfg(), args)
		},
	})
}

func runBrowserRender(ctx context.Context, cfg config.BrowserToolConfig, args map[string]interface{}) (result interface{}, err error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidCall)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: only http and https urls are supported", ErrInvalidCall)
	}

	guard := &netguard.Guard{}
	if err := guard.CheckURL(rawURL); err != nil {
		return nil, fmt.Errorf("ssrf guard: %w", err)
	}

	waitMs := 0
	if w, ok := args["waitMs"].(float64); ok && w > 0 {
		waitMs = int(w)
		if waitMs > 10000 {
			waitMs = 10000
		}
	}

	ctx, cancel := context.WithTimeout(ctx, browserRenderTimeout)
	defer cancel()

	// rod panics on protocol failures; contain them here.
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("browser render: %v", r)
		}
	}()

	l := launcher.New().Headless(cfg.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	if waitMs > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(waitMs) * time.Millisecond):
		}
	}

	title, err := page.Eval("() => document.title")
	if err != nil {
		return nil, fmt.Errorf("read title: %w", err)
	}
	text, err := page.Eval("() => document.body ? document.body.innerText : ''")
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return map[string]interface{}{
		"url":   rawURL,
		"title": title.Value.Str(),
		"text":  text.Value.Str(),
	}, nil
}
