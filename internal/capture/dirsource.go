package capture

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/presence-data/facegate/internal/monitoring"
	"github.com/presence-data/facegate/internal/security"
)

// DirSource replays image files from a spool directory in name order,
// looping when it reaches the end. An external camera daemon that
// writes JPEGs to a directory pairs with it.
type DirSource struct {
	dir   string
	files []string
	next  int
}

// NewDirSource lists the image files under dir. At least one readable
// image must be present.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			path := filepath.Join(dir, e.Name())
			if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
				monitoring.Logf("capture: skipping %s: %v", path, err)
				continue
			}
			files = append(files, path)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{dir: dir, files: files}, nil
}

// Grab decodes the next image in the rotation.
func (s *DirSource) Grab() (image.Image, error) {
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}
	return img, nil
}

// Close is a no-op; DirSource holds no device.
func (s *DirSource) Close() error { return nil }
