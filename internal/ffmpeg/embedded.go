//go:build ffmpeg_embedded

package ffmpeg

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
)

// Builds tagged ffmpeg_embedded carry the release archives under assets/,
// so the first run needs no download.
//
//go:embed assets/*
var bundle embed.FS

func openEmbeddedAsset(name string) (io.ReadCloser, bool, error) {
	file, err := bundle.Open(path.Join("assets", name))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("open embedded %s: %w", name, err)
	}
	return file, true, nil
}
