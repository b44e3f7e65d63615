package handler

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomcpgo/mcp/pkg/protocol"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/compositor"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/orchestrator"
	"github.com/gomcpgo/replicate_image_edit/pkg/responses"
	"github.com/gomcpgo/replicate_image_edit/pkg/store"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

// handleEditImage handles the edit_image tool
func (h *ImageEditHandler) handleEditImage(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResponse, error) {
	const op = "edit_image"
	params := types.EditImageParams{}
	params.Image, _ = args["image"].(string)
	params.Instruction, _ = args["instruction"].(string)
	params.Strategy, _ = args["strategy"].(string)
	params.Filename, _ = args["filename"].(string)

	if strings.TrimSpace(params.Image) == "" {
		return h.errorResponse(op, "invalid_parameters", "image parameter is required", nil)
	}
	if strings.TrimSpace(params.Instruction) == "" {
		return h.errorResponse(op, "invalid_parameters", "instruction parameter is required", nil)
	}
	strategy := h.strategy
	if params.Strategy != "" {
		s, err := orchestrator.ParseStrategy(params.Strategy)
		if err != nil {
			return h.fromError(op, err)
		}
		strategy = s
	}

	img, err := h.images.Resolve(ctx, params.Image)
	if err != nil {
		return h.fromError(op, err)
	}

	res, editErr := h.editor.Edit(ctx, orchestrator.Request{Image: img, Instruction: params.Instruction, Strategy: strategy})
	if res == nil {
		return h.fromError(op, editErr)
	}

	paths := map[string]string{}
	filename := ""
	if res.Image != nil && h.storage != nil {
		if path, err := h.storage.SaveImage(res.SessionID, res.Image, params.Filename); err != nil {
			h.logger.Warn("failed to save edit result", zap.String("id", res.SessionID), zap.Error(err))
		} else {
			paths["file_path"] = path
			filename = filepath.Base(path)
		}
		meta := responses.EditMetadata(res, params.Instruction, filename, editErr)
		meta.InputDigest = img.Digest()
		if err := h.storage.SaveMetadata(res.SessionID, meta); err != nil {
			h.logger.Warn("failed to save metadata", zap.String("id", res.SessionID), zap.Error(err))
		}
	}

	data := responses.EditData(res)
	if editErr != nil {
		code, message, details := responses.ErrorParts(editErr)
		for k, v := range data {
			details[k] = v
		}
		details["id"] = res.SessionID
		if p, ok := paths["file_path"]; ok {
			details["last_good_path"] = p
		}
		return h.errorResponse(op, code, message, details)
	}
	return h.successResponse(responses.BuildResultResponse(op, res.SessionID, res.Success, paths, data))
}

// handleCompositeMask handles the composite_mask tool
func (h *ImageEditHandler) handleCompositeMask(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResponse, error) {
	const op = "composite_mask"
	params := types.CompositeParams{}
	params.Original, _ = args["original"].(string)
	params.Edited, _ = args["edited"].(string)
	params.Mask, _ = args["mask"].(string)
	params.Filename, _ = args["filename"].(string)

	refs := map[string]string{"original": params.Original, "edited": params.Edited, "mask": params.Mask}
	images := map[string]*imageref.Image{}
	for _, name := range []string{"original", "edited", "mask"} {
		if strings.TrimSpace(refs[name]) == "" {
			return h.errorResponse(op, "invalid_parameters", name+" parameter is required", nil)
		}
		img, err := h.images.Resolve(ctx, refs[name])
		if err != nil {
			return h.fromError(op, err)
		}
		images[name] = img
	}

	startTime := time.Now()
	out, err := compositor.CompositeImages(images["original"], images["edited"], images["mask"])
	if err != nil {
		return h.fromError(op, err)
	}

	id := ulid.Make().String()
	paths, handle := h.keep(ctx, op, id, out, params.Filename)
	h.saveMetadata(id, &types.EditMetadata{
		Operation:   op,
		Handle:      string(handle),
		Success:     true,
		Filename:    filepath.Base(paths["file_path"]),
		InputDigest: images["original"].Digest(),
		Digest:      out.Digest(),
	})

	return h.successResponse(responses.BuildSuccessResponse(op, id, paths, map[string]interface{}{
		"handle": handle,
		"digest": out.Digest(),
		"metrics": map[string]interface{}{
			"processing_time": time.Since(startTime).Seconds(),
			"output_size":     len(out.Data),
		},
	}))
}

// handleSegmentObject handles the segment_object tool
func (h *ImageEditHandler) handleSegmentObject(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResponse, error) {
	const op = "segment_object"
	params := types.SegmentParams{}
	params.Image, _ = args["image"].(string)
	params.Label, _ = args["label"].(string)
	params.Filename, _ = args["filename"].(string)

	if strings.TrimSpace(params.Image) == "" {
		return h.errorResponse(op, "invalid_parameters", "image parameter is required", nil)
	}
	img, err := h.images.Resolve(ctx, params.Image)
	if err != nil {
		return h.fromError(op, err)
	}

	res, err := h.locator.Resolve(ctx, img, params.Label)
	if err != nil {
		return h.fromError(op, err)
	}
	id := ulid.Make().String()
	if !res.Found {
		return h.successResponse(responses.BuildResultResponse(op, id, false, nil, map[string]interface{}{
			"found":   false,
			"label":   params.Label,
			"message": "could not find target " + params.Label,
		}))
	}

	paths, handle := h.keep(ctx, op, id, res.Mask, params.Filename)
	data := map[string]interface{}{
		"found":  true,
		"label":  params.Label,
		"handle": handle,
	}
	if res.Scored {
		data["confidence"] = res.Confidence
	}
	if m, err := res.Mask.Decode(); err == nil {
		if box, ok := compositor.MaskBounds(compositor.ToGray(m), 127); ok {
			data["bounds"] = []int{box.Min.X, box.Min.Y, box.Max.X, box.Max.Y}
		}
	}
	h.saveMetadata(id, &types.EditMetadata{
		Operation:   op,
		Instruction: params.Label,
		Handle:      string(handle),
		Success:     true,
		Filename:    filepath.Base(paths["file_path"]),
		InputDigest: img.Digest(),
		Digest:      res.Mask.Digest(),
	})
	return h.successResponse(responses.BuildSuccessResponse(op, id, paths, data))
}

// handleGetImage handles the get_image tool
func (h *ImageEditHandler) handleGetImage(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResponse, error) {
	const op = "get_image"
	params := types.GetImageParams{}
	params.Handle, _ = args["handle"].(string)
	handle := strings.TrimSpace(params.Handle)
	if handle == "" {
		return h.errorResponse(op, "invalid_parameters", "handle parameter is required", nil)
	}
	if h.store == nil {
		return h.errorResponse(op, "unsupported", "no image store configured", nil)
	}
	img, err := h.store.Get(ctx, store.Handle(handle))
	if err != nil {
		return h.fromError(op, err)
	}
	return h.successResponse(responses.BuildSuccessResponse(op, handle, nil, map[string]interface{}{
		"handle":    handle,
		"mime_type": img.MIMEType,
		"size":      len(img.Data),
		"digest":    img.Digest(),
		"data_url":  img.DataURL(),
	}))
}

// handleListImages handles the list_images tool
func (h *ImageEditHandler) handleListImages(ctx context.Context) (*protocol.CallToolResponse, error) {
	const op = "list_images"
	if h.storage == nil {
		return h.errorResponse(op, "unsupported", "no output folder configured", nil)
	}
	edits, err := h.storage.ListEdits()
	if err != nil {
		return h.errorResponse(op, "service_error", err.Error(), nil)
	}
	return h.successResponse(responses.BuildSuccessResponse(op, "", nil, map[string]interface{}{
		"count":  len(edits),
		"images": edits,
	}))
}

// keep stores img in the handle store and on disk, returning whatever
// succeeded.
func (h *ImageEditHandler) keep(ctx context.Context, op, id string, img *imageref.Image, filename string) (map[string]string, store.Handle) {
	paths := map[string]string{}
	var handle store.Handle
	if h.store != nil {
		hd, err := h.store.Put(ctx, img)
		if err != nil {
			h.logger.Warn("failed to store image", zap.String("operation", op), zap.Error(err))
		} else {
			handle = hd
		}
	}
	if h.storage != nil {
		path, err := h.storage.SaveImage(id, img, filename)
		if err != nil {
			h.logger.Warn("failed to save image", zap.String("operation", op), zap.Error(err))
		} else {
			paths["file_path"] = path
		}
	}
	return paths, handle
}

func (h *ImageEditHandler) saveMetadata(id string, meta *types.EditMetadata) {
	if h.storage == nil {
		return
	}
	if meta.Filename == "." {
		meta.Filename = ""
	}
	if err := h.storage.SaveMetadata(id, meta); err != nil {
		h.logger.Warn("failed to save metadata", zap.String("id", id), zap.Error(err))
	}
}

// fromError renders a classified error as a tool error response.
func (h *ImageEditHandler) fromError(operation string, err error) (*protocol.CallToolResponse, error) {
	code, message, details := responses.ErrorParts(err)
	h.logger.Info("tool call failed", zap.String("tool", operation), zap.String("code", code), zap.Error(err))
	return h.errorResponse(operation, code, message, details)
}

// errorResponse builds an error response
func (h *ImageEditHandler) errorResponse(operation, code, message string, details map[string]interface{}) (*protocol.CallToolResponse, error) {
	content := responses.BuildErrorResponse(operation, code, message, details)

	return &protocol.CallToolResponse{
		Content: []protocol.ToolContent{
			{
				Type: "text",
				Text: content,
			},
		},
		IsError: true,
	}, nil
}

// successResponse builds a success response
func (h *ImageEditHandler) successResponse(content string) (*protocol.CallToolResponse, error) {
	return &protocol.CallToolResponse{
		Content: []protocol.ToolContent{
			{
				Type: "text",
				Text: content,
			},
		},
	}, nil
}
