package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

const metadataFile = "metadata.yaml"

// Storage handles local file storage for edit results
type Storage struct {
	rootPath string
}

// NewStorage creates a new storage instance
func NewStorage(rootPath string) *Storage {
	return &Storage{
		rootPath: rootPath,
	}
}

// Prepare creates the directory for one edit session. id is the session ID.
func (s *Storage) Prepare(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid edit id %q", id)
	}
	if err := os.MkdirAll(filepath.Join(s.rootPath, id), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// SaveImage writes img under the edit's directory and returns its path.
// An empty filename is derived from the image's MIME type.
func (s *Storage) SaveImage(id string, img *imageref.Image, filename string) (string, error) {
	if img == nil {
		return "", fmt.Errorf("no image to save")
	}
	if filename == "" {
		filename = "image" + extension(img.MIMEType)
	}
	filename = filepath.Base(filename)
	if err := s.Prepare(id); err != nil {
		return "", err
	}

	imagePath := filepath.Join(s.rootPath, id, filename)
	if err := os.WriteFile(imagePath, img.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	return imagePath, nil
}

func extension(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".png"
}

// SaveMetadata saves the sidecar for an edit
func (s *Storage) SaveMetadata(id string, metadata *types.EditMetadata) error {
	if err := s.Prepare(id); err != nil {
		return err
	}
	metadataPath := filepath.Join(s.rootPath, id, metadataFile)

	// Ensure version is set
	if metadata.Version == "" {
		metadata.Version = "1.0"
	}
	if metadata.ID == "" {
		metadata.ID = id
	}
	if metadata.Timestamp.IsZero() {
		metadata.Timestamp = time.Now()
	}

	data, err := yaml.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(metadataPath, data, 0644); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// LoadMetadata loads the sidecar for an edit
func (s *Storage) LoadMetadata(id string) (*types.EditMetadata, error) {
	metadataPath := filepath.Join(s.rootPath, id, metadataFile)

	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata types.EditMetadata
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &metadata, nil
}

// ListEdits lists stored edits, newest first. Directories without a
// readable sidecar are skipped.
func (s *Storage) ListEdits() ([]types.EditInfo, error) {
	entries, err := os.ReadDir(s.rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.EditInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	edits := []types.EditInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		metadata, err := s.LoadMetadata(id)
		if err != nil {
			continue
		}
		info := types.EditInfo{
			ID:        id,
			Operation: metadata.Operation,
			Timestamp: metadata.Timestamp,
			Success:   metadata.Success,
		}
		if metadata.Filename != "" {
			info.FilePath = s.GetImagePath(id, metadata.Filename)
		}
		edits = append(edits, info)
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].Timestamp.After(edits[j].Timestamp) })

	return edits, nil
}

// GetImagePath returns the full path to a stored file
func (s *Storage) GetImagePath(id string, filename string) string {
	return filepath.Join(s.rootPath, id, filename)
}
