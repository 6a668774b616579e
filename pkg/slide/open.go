package slide

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Open picks a Reader for the source by file extension.
func Open(path string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".btf":
		return OpenTIFF(path)
	}
	return nil, fmt.Errorf("no reader available for %s", filepath.Base(path))
}
