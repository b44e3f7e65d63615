package handler

import (
	"context"
	"encoding/json"

	"github.com/gomcpgo/mcp/pkg/protocol"
)

// ListTools provides a list of all available tools
func (h *ImageEditHandler) ListTools(ctx context.Context) (*protocol.ListToolsResponse, error) {
	tools := []protocol.Tool{
		{
			Name:        "edit_image",
			Description: `Edit an image from a natural-language instruction. The direct strategy sends the instruction to FLUX Kontext in one call and falls back to the planned strategy if that fails. The planned strategy analyzes the scene, plans a sequence of operations (remove, replace, add, relight, background, upscale, move, resize, detect, describe, extract) and runs them one by one, compositing masked edits so nothing outside the target changes. If a step fails, the last good image is kept and the failing step is reported.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"image": {
						"type": "string",
						"description": "Image to edit: an http(s) URL, a data URI, a local file path or raw base64"
					},
					"instruction": {
						"type": "string",
						"description": "What to change (e.g., 'Remove the red mug', 'Replace the sky with a sunset', 'Add a lamp on the left')"
					},
					"strategy": {
						"type": "string",
						"description": "direct (single native edit, falls back to planned) or planned (scene analysis and step-by-step plan)",
						"enum": ["direct", "planned"]
					},
					"filename": {
						"type": "string",
						"description": "Custom filename for the edited image"
					}
				},
				"required": ["image", "instruction"]
			}`),
		},
		{
			Name:        "composite_mask",
			Description: `Blend an edited image into the original only where a mask allows it. White mask pixels take the edited image, black pixels keep the original and grey pixels blend. The edited image and mask are resized to the original's dimensions and the original's transparency is always kept.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"original": {
						"type": "string",
						"description": "Original image reference"
					},
					"edited": {
						"type": "string",
						"description": "Edited image reference"
					},
					"mask": {
						"type": "string",
						"description": "Mask image reference (white = apply edit)"
					},
					"filename": {
						"type": "string",
						"description": "Custom filename for the composite"
					}
				},
				"required": ["original", "edited", "mask"]
			}`),
		},
		{
			Name:        "segment_object",
			Description: `Find an object in an image by description and return its mask. Not finding the object is reported as found=false rather than an error.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"image": {
						"type": "string",
						"description": "Image reference"
					},
					"label": {
						"type": "string",
						"description": "What to find (e.g., 'red mug', 'the person on the left')"
					},
					"filename": {
						"type": "string",
						"description": "Custom filename for the mask"
					}
				},
				"required": ["image", "label"]
			}`),
		},
		{
			Name:        "get_image",
			Description: `Fetch an image returned by a previous call using its handle. Handles expire after the configured store TTL.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"handle": {
						"type": "string",
						"description": "Handle from a previous edit_image, composite_mask or segment_object response"
					}
				},
				"required": ["handle"]
			}`),
		},
		{
			Name:        "list_images",
			Description: `List saved results from previous calls, newest first.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
	}

	return &protocol.ListToolsResponse{Tools: tools}, nil
}
