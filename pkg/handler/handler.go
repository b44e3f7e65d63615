package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gomcpgo/mcp/pkg/protocol"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/orchestrator"
	"github.com/gomcpgo/replicate_image_edit/pkg/segmentation"
	"github.com/gomcpgo/replicate_image_edit/pkg/storage"
	"github.com/gomcpgo/replicate_image_edit/pkg/store"
)

// Editor runs an orchestrated edit.
type Editor interface {
	Edit(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Locator finds a labelled element's mask.
type Locator interface {
	Resolve(ctx context.Context, img *imageref.Image, label string) (segmentation.Result, error)
}

// ImageSource resolves URL, data URI, path or base64 references.
type ImageSource interface {
	Resolve(ctx context.Context, ref string) (*imageref.Image, error)
}

// Deps are the collaborators behind the MCP tools.
type Deps struct {
	Editor          Editor
	Locator         Locator
	Images          ImageSource
	Store           store.Store
	Storage         *storage.Storage
	DefaultStrategy orchestrator.Strategy
	Logger          *zap.Logger
}

// ImageEditHandler handles MCP requests for image edit operations
type ImageEditHandler struct {
	editor   Editor
	locator  Locator
	images   ImageSource
	store    store.Store
	storage  *storage.Storage
	strategy orchestrator.Strategy
	logger   *zap.Logger
}

// NewImageEditHandler creates a new handler instance
func NewImageEditHandler(d Deps) *ImageEditHandler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy := d.DefaultStrategy
	if strategy == "" {
		strategy = orchestrator.StrategyDirect
	}
	return &ImageEditHandler{
		editor:   d.Editor,
		locator:  d.Locator,
		images:   d.Images,
		store:    d.Store,
		storage:  d.Storage,
		strategy: strategy,
		logger:   logger,
	}
}

// CallTool handles execution of image tools
func (h *ImageEditHandler) CallTool(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResponse, error) {
	startTime := time.Now()
	defer func() {
		h.logger.Debug("tool call finished", zap.String("tool", req.Name), zap.Duration("elapsed", time.Since(startTime)))
	}()

	switch req.Name {
	case "edit_image":
		return h.handleEditImage(ctx, req.Arguments)
	case "composite_mask":
		return h.handleCompositeMask(ctx, req.Arguments)
	case "segment_object":
		return h.handleSegmentObject(ctx, req.Arguments)
	case "get_image":
		return h.handleGetImage(ctx, req.Arguments)
	case "list_images":
		return h.handleListImages(ctx)
	default:
		return nil, fmt.Errorf("unknown tool: %s", req.Name)
	}
}
