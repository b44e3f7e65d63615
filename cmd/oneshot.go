package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gomcpgo/mcp/pkg/protocol"
	"go.uber.org/zap"
)

// oneShot runs a single edit_image call and writes the JSON response to w.
// ok is false when the edit failed or produced nothing.
func (a *app) oneShot(ctx context.Context, w io.Writer, input, instruction, strategy string) (bool, error) {
	args := map[string]interface{}{
		"image":       input,
		"instruction": instruction,
	}
	if strategy != "" {
		args["strategy"] = strategy
	}

	resp, err := a.handler.CallTool(ctx, &protocol.CallToolRequest{Name: "edit_image", Arguments: args})
	if err != nil {
		return false, err
	}
	if len(resp.Content) == 0 {
		return false, fmt.Errorf("empty response")
	}
	text := resp.Content[0].Text
	fmt.Fprintln(w, text)

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return !resp.IsError && result.Success, nil
}

// probe checks that a raw model ID accepts predictions, then cancels the
// prediction to save resources.
func (a *app) probe(ctx context.Context, modelID string) error {
	fmt.Printf("Testing raw model ID: %s\n", modelID)
	prediction, err := a.client.CreatePrediction(ctx, modelID, map[string]interface{}{
		"prompt": "A simple test image",
	})
	if err != nil {
		return err
	}

	fmt.Printf("✅ SUCCESS! Model ID works: %s\n", modelID)
	fmt.Printf("   Prediction ID: %s\n", prediction.ID)
	fmt.Printf("   Status: %s\n", prediction.Status)

	if err := a.client.CancelPrediction(ctx, prediction.ID); err != nil {
		a.logger.Warn("failed to cancel probe prediction", zap.String("prediction_id", prediction.ID), zap.Error(err))
	}
	return nil
}
