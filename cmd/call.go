package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/pkg/protocol"
)

func callCmd() *cobra.Command {
	var (
		gatewayURL string
		token      string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Invoke one gateway RPC method and print the result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := "{}"
			if len(args) == 2 {
				params = args[1]
			}
			return runCall(gatewayURL, token, args[0], params, timeout)
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "url", "", "gateway WebSocket URL (default: ws://<config host>:<port>/ws)")
	cmd.Flags().StringVar(&token, "token", "", "gateway token (default: from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "call timeout")
	return cmd
}

func runCall(gatewayURL, token, method, paramsJSON string, timeout time.Duration) error {
	var params interface{}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("params are not valid JSON: %w", err)
	}

	if gatewayURL == "" || token == "" {
		snap, err := config.NewStore(resolveConfigPath()).ReadSnapshot()
		if err == nil && snap.Config != nil {
			if gatewayURL == "" {
				gatewayURL = fmt.Sprintf("ws://%s:%d/ws", gatewayProbeHost(snap.Config.Gateway.Host), snap.Config.Gateway.Port)
			}
			if token == "" {
				token = snap.Config.Gateway.Token
			}
		}
	}
	if gatewayURL == "" {
		return fmt.Errorf("no gateway URL: pass --url or create a config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", gatewayURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello, err := protocol.NewRequest(uuid.NewString(), "hello", map[string]interface{}{
		"token":  token,
		"client": "clawd-cli",
	})
	if err != nil {
		return err
	}
	if _, err := roundTrip(ctx, conn, hello); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	req, err := protocol.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return err
	}
	res, err := roundTrip(ctx, conn, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if !res.OK {
		enc.Encode(res.Error)
		return fmt.Errorf("%s failed: %s", method, res.Error.Code)
	}
	return enc.Encode(res.Result)
}

// roundTrip sends a request and reads frames until its response
// arrives, skipping events.
func roundTrip(ctx context.Context, conn *websocket.Conn, req *protocol.RequestFrame) (*protocol.ResponseFrame, error) {
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, err
	}
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return nil, err
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			continue
		}
		res, ok := frame.(*protocol.ResponseFrame)
		if !ok || res.ID != req.ID {
			continue
		}
		if !res.OK && res.Error != nil && req.Method == "hello" {
			return nil, fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
		}
		return res, nil
	}
}
