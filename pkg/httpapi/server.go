// Package httpapi exposes the edit tools over plain HTTP.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gomcpgo/mcp/pkg/protocol"
	"go.uber.org/zap"
)

// ToolCaller runs one MCP tool call.
type ToolCaller interface {
	CallTool(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResponse, error)
}

// Server routes HTTP requests onto tool calls.
type Server struct {
	tools     ToolCaller
	logger    *zap.Logger
	version   string
	maxUpload int64
}

func New(tools ToolCaller, version string, maxUpload int64, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{tools: tools, logger: logger, version: version, maxUpload: maxUpload}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": s.version,
		})
	})

	api := r.Group("/v1")
	{
		api.POST("/edits", s.createEdit)
		api.POST("/composite", s.composite)
		api.POST("/segments", s.segment)
		api.GET("/images/:handle", s.getImage)
	}
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("cost", time.Since(start)),
		)
	}
}

func (s *Server) createEdit(c *gin.Context) {
	args, ok := s.bind(c, "image")
	if !ok {
		return
	}
	s.call(c, "edit_image", args)
}

func (s *Server) composite(c *gin.Context) {
	args, ok := s.bind(c, "original", "edited", "mask")
	if !ok {
		return
	}
	s.call(c, "composite_mask", args)
}

func (s *Server) segment(c *gin.Context) {
	args, ok := s.bind(c, "image")
	if !ok {
		return
	}
	s.call(c, "segment_object", args)
}

func (s *Server) getImage(c *gin.Context) {
	s.call(c, "get_image", map[string]interface{}{"handle": c.Param("handle")})
}

// bind reads a JSON body, or a multipart form where the named image fields
// may be uploaded as files.
func (s *Server) bind(c *gin.Context, imageFields ...string) (map[string]interface{}, bool) {
	args := map[string]interface{}{}
	if c.ContentType() != "multipart/form-data" {
		if err := c.ShouldBindJSON(&args); err != nil {
			s.reject(c, fmt.Sprintf("invalid JSON body: %v", err))
			return nil, false
		}
		return args, true
	}

	form, err := c.MultipartForm()
	if err != nil {
		s.reject(c, fmt.Sprintf("invalid form: %v", err))
		return nil, false
	}
	for k, v := range form.Value {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}
	for _, field := range imageFields {
		file, err := c.FormFile(field)
		if err != nil {
			continue
		}
		if s.maxUpload > 0 && file.Size > s.maxUpload {
			s.reject(c, fmt.Sprintf("%s exceeds the %d byte upload limit", field, s.maxUpload))
			return nil, false
		}
		f, err := file.Open()
		if err != nil {
			s.reject(c, fmt.Sprintf("failed to read %s: %v", field, err))
			return nil, false
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.reject(c, fmt.Sprintf("failed to read %s: %v", field, err))
			return nil, false
		}
		args[field] = "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	return args, true
}

func (s *Server) reject(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"type":    "invalid_parameters",
			"message": message,
		},
	})
}

func (s *Server) call(c *gin.Context, tool string, args map[string]interface{}) {
	resp, err := s.tools.CallTool(c.Request.Context(), &protocol.CallToolRequest{Name: tool, Arguments: args})
	if err != nil {
		s.logger.Error("tool call failed", zap.String("tool", tool), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"message": err.Error()}})
		return
	}
	if len(resp.Content) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	body := resp.Content[0].Text
	status := http.StatusOK
	if resp.IsError {
		status = statusFor(errorType(body))
	}
	c.Data(status, "application/json; charset=utf-8", []byte(body))
}

func errorType(body string) string {
	var payload struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.Error.Type
}

// statusFor maps a response error type onto an HTTP status.
func statusFor(errorType string) int {
	switch errorType {
	case "invalid_parameters":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "service_unavailable":
		return http.StatusServiceUnavailable
	case "parse_error", "service_error":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	case "unsupported":
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
