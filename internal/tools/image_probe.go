package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/netguard"
)

const (
	imageDefaultMaxDimension = 2048
	imageFetchTimeout        = 20 * time.Second
	imageMaxBytes            = 32 << 20
)

// RegisterImageProbe installs the image.probe builtin: decode an image
// from a local path, URL, or base64 payload, report its dimensions and
// format, and downscale when it exceeds the configured bound.
func RegisterImageProbe(src *BuiltinSource, getCfg func() config.ImageToolConfig) {
	src.Register(Builtin{
		Command:     "image.probe",
		Description: "Probe an image: dimensions, format, and a downscaled copy when it exceeds the size bound.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":   map[string]interface{}{"type": "string", "description": "Local file path."},
				"url":    map[string]interface{}{"type": "string", "description": "HTTP(S) URL."},
				"base64": map[string]interface{}{"type": "string", "description": "Base64-encoded image bytes."},
			},
		},
		Enabled: func() bool { return getCfg().Enabled },
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return runImageProbe(ctx, getCfg(), args)
		},
	})
}

func runImageProbe(ctx context.Context, cfg config.ImageToolConfig, args map[string]interface{}) (interface{}, error) {
	data, source, err := loadImageBytes(ctx, args)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	maxDim := cfg.MaxDimension
	if maxDim <= 0 {
		maxDim = imageDefaultMaxDimension
	}

	result := map[string]interface{}{
		"source": source,
		"format": format,
		"width":  width,
		"height": height,
		"bytes":  len(data),
	}

	if width > maxDim || height > maxDim {
		scaled := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, scaled, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode downscaled image: %w", err)
		}
		sb := scaled.Bounds()
		result["downscaled"] = map[string]interface{}{
			"width":  sb.Dx(),
			"height": sb.Dy(),
			"format": "png",
			"base64": base64.StdEncoding.EncodeToString(buf.Bytes()),
		}
	}
	return result, nil
}

func loadImageBytes(ctx context.Context, args map[string]interface{}) ([]byte, string, error) {
	if path, _ := args["path"].(string); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read image file: %w", err)
		}
		return data, "path", nil
	}

	if rawURL, _ := args["url"].(string); rawURL != "" {
		guard := &netguard.Guard{}
		if err := guard.CheckURL(rawURL); err != nil {
			return nil, "", fmt.Errorf("ssrf guard: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := guard.Client(imageFetchTimeout).Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetch image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, "", fmt.Errorf("fetch image: http %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, imageMaxBytes))
		if err != nil {
			return nil, "", fmt.Errorf("read image body: %w", err)
		}
		return data, "url", nil
	}

	if b64, _ := args["base64"].(string); b64 != "" {
		if idx := strings.Index(b64, ";base64,"); idx >= 0 {
			b64 = b64[idx+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 image: %w", err)
		}
		return data, "base64", nil
	}

	return nil, "", fmt.Errorf("%w: one of path, url, base64 is required", ErrInvalidCall)
}
