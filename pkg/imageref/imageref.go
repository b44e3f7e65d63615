// Package imageref resolves the image references accepted by every edit
// component into in-memory payloads.
package imageref

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
)

// Source records which reference form an image was resolved from.
type Source string

const (
	SourceURL     Source = "url"
	SourceDataURI Source = "data_uri"
	SourceFile    Source = "file"
	SourceBase64  Source = "base64"
	SourceMemory  Source = "memory"
)

// Image is an immutable encoded image payload.
type Image struct {
	Data     []byte
	MIMEType string
	Source   Source
}

// New wraps encoded bytes, sniffing the MIME type.
func New(data []byte) *Image {
	return &Image{Data: data, MIMEType: sniff(data), Source: SourceMemory}
}

// Digest is the hex blake3 hash of the encoded bytes.
func (img *Image) Digest() string {
	sum := blake3.Sum256(img.Data)
	return hex.EncodeToString(sum[:])
}

// DataURL renders the payload as a data URI for model inputs.
func (img *Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
}

// Decode decodes the payload into a raster.
func (img *Image) Decode() (image.Image, error) {
	m, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, editerr.Validation("decode_image", "failed to decode %s image: %v", img.MIMEType, err)
	}
	return m, nil
}

// EncodePNG encodes a raster as a PNG payload.
func EncodePNG(m image.Image) (*Image, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, m); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return &Image{Data: buf.Bytes(), MIMEType: "image/png", Source: SourceMemory}, nil
}

// Resolver turns references into payloads.
type Resolver struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *zap.Logger
}

// NewResolver creates a resolver. maxBytes <= 0 disables the size check.
func NewResolver(maxBytes int64, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Resolve accepts, in this order: an http(s) URL, a data URI, a path to an
// existing local file, or raw base64 with no prefix. A reference matching
// none of these is a validation error.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, editerr.Validation("resolve_image", "image reference is empty")
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return r.fetch(ctx, ref)
	case strings.HasPrefix(lower, "data:"):
		return r.decodeDataURI(ref)
	}

	if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
		return r.readFile(ref, info.Size())
	}

	data, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return nil, editerr.Validation("resolve_image",
			"reference is not a URL, data URI, existing file, or base64 payload")
	}
	return r.accept(data, "", SourceBase64)
}

func (r *Resolver) fetch(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, editerr.Validation("fetch_image", "invalid image url: %v", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &editerr.Error{Kind: editerr.KindTransient, Op: "fetch_image", Message: "failed to download image", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, editerr.FromHTTPStatus("fetch_image", resp.StatusCode, string(body),
			editerr.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}

	reader := io.Reader(resp.Body)
	if r.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &editerr.Error{Kind: editerr.KindTransient, Op: "fetch_image", Message: "failed to read image data", Err: err}
	}
	r.logger.Debug("fetched image", zap.String("url", url), zap.Int("bytes", len(data)))
	return r.accept(data, resp.Header.Get("Content-Type"), SourceURL)
}

func (r *Resolver) decodeDataURI(ref string) (*Image, error) {
	header, payload, ok := strings.Cut(ref, ",")
	if !ok {
		return nil, editerr.Validation("resolve_image", "invalid data uri")
	}
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		return nil, editerr.Validation("resolve_image", "data uri must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, editerr.Validation("resolve_image", "failed to decode base64: %v", err)
	}
	mime := header[len("data:") : len(header)-len(";base64")]
	return r.accept(data, mime, SourceDataURI)
}

func (r *Resolver) readFile(path string, size int64) (*Image, error) {
	if r.maxBytes > 0 && size > r.maxBytes {
		return nil, editerr.Validation("resolve_image", "image file too large (max %d bytes)", r.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, editerr.Validation("resolve_image", "failed to read file: %v", err)
	}
	return r.accept(data, mimeFromExt(path), SourceFile)
}

func (r *Resolver) accept(data []byte, mime string, src Source) (*Image, error) {
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, editerr.Validation("resolve_image", "image too large (max %d bytes)", r.maxBytes)
	}
	sniffed := sniff(data)
	if !strings.HasPrefix(sniffed, "image/") {
		return nil, editerr.Validation("resolve_image", "payload is not an image (detected %s)", sniffed)
	}
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = sniffed
	}
	return &Image{Data: data, MIMEType: mime, Source: src}, nil
}

func sniff(data []byte) string {
	return strings.SplitN(http.DetectContentType(data), ";", 2)[0]
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".png":
		return "image/png"
	}
	return ""
}
