// Package metadata extracts technical metadata from image files.
package metadata

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"

	// Register stdlib decoders for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ImageFileExtensions defines the image formats the scanner picks up
var ImageFileExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// IsImageFile checks if the given path has a supported image extension
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ImageFileExtensions[ext]
}

// ImageInfo holds technical metadata probed from an image file
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// ProbeImage reads image dimensions and file size without decoding the
// full pixel data. WebP goes through its own decoder since the stdlib
// does not ship one.
func ProbeImage(path string) (*ImageInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	info := &ImageInfo{Size: stat.Size()}

	if strings.ToLower(filepath.Ext(path)) == ".webp" {
		cfg, err := webp.DecodeConfig(file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode webp header: %w", err)
		}
		info.Width = cfg.Width
		info.Height = cfg.Height
		info.Format = "webp"
		return info, nil
	}

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	info.Width = cfg.Width
	info.Height = cfg.Height
	info.Format = format
	return info, nil
}
