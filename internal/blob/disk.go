package blob

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const partSuffix = ".part"

// Disk keeps clips as flat files under one directory.
type Disk struct {
	fs        afero.Fs
	dir       string
	publicURL string
}

func NewDisk(afs afero.Fs, dir, publicURL string) (*Disk, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob: disk backend needs a directory")
	}
	if publicURL == "" {
		return nil, fmt.Errorf("blob: disk backend needs a public url")
	}
	if err := afs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Disk{fs: afs, dir: dir, publicURL: publicURL}, nil
}

// Put writes to a temp name and renames, so a URL never points at a partial file.
func (d *Disk) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := newKey(contentType)
	path := filepath.Join(d.dir, key)
	tmp := path + partSuffix

	if err := afero.WriteFile(d.fs, tmp, data, 0o644); err != nil {
		d.fs.Remove(tmp)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := d.fs.Rename(tmp, path); err != nil {
		d.fs.Remove(tmp)
		return "", fmt.Errorf("commit blob: %w", err)
	}

	log.Debug().Str("module", "blob").Str("key", key).Int("bytes", len(data)).Msg("stored")
	return joinURL(d.publicURL, key), nil
}

// Handler serves the stored files; mount it under the public URL's path.
// Directories and in-flight temp files answer 404.
func (d *Disk) Handler() http.Handler {
	return http.FileServer(clipsOnly{afero.NewHttpFs(d.fs).Dir(d.dir)})
}

type clipsOnly struct {
	fs http.FileSystem
}

func (c clipsOnly) Open(name string) (http.File, error) {
	if strings.HasSuffix(name, partSuffix) {
		return nil, fs.ErrNotExist
	}
	f, err := c.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
