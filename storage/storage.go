// Package storage reports the capacity and contents of mounted storage
// devices.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// ErrNotMounted is returned by Device.Update if the path does not exist.
var ErrNotMounted = errors.New("storage: not mounted")

// Device is a mounted filesystem.
type Device struct {
	Path      string
	Size      uint64 // bytes
	Available uint64 // bytes available to unprivileged users
}

// Update reads the filesystem capacity.
func (d *Device) Update() error {
	var st unix.Statfs_t
	if err := unix.Statfs(d.Path, &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotMounted, d.Path)
		}
		return fmt.Errorf("storage: statfs %s: %w", d.Path, err)
	}
	bsize := uint64(st.Frsize)
	if bsize == 0 {
		bsize = uint64(st.Bsize)
	}
	d.Size = st.Blocks * bsize
	d.Available = st.Bavail * bsize
	return nil
}

// IsMountPoint checks whether path is on a different filesystem than its
// parent directory. A directory created for a mount is not a mount point until
// the filesystem is actually mounted on it.
func IsMountPoint(path string) (bool, error) {
	var st, pst unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("%w: %s", ErrNotMounted, path)
		}
		return false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if err := unix.Stat(filepath.Dir(path), &pst); err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", filepath.Dir(path), err)
	}
	return st.Dev != pst.Dev, nil
}

// Used returns the number of bytes which are not available.
func (d Device) Used() uint64 {
	if d.Available > d.Size {
		return 0
	}
	return d.Size - d.Available
}

// UsedPercent returns Used as a percentage of Size.
func (d Device) UsedPercent() float64 {
	if d.Size == 0 {
		return 0
	}
	return float64(d.Used()) / float64(d.Size) * 100
}

func (d Device) String() string {
	return humanize.IBytes(d.Available) + " free of " + humanize.IBytes(d.Size)
}

// mediaExtensions covers common formats missing from the builtin mime table
// when the system has no mime.types.
var mediaExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".opus": "audio/opus",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ogv":  "video/ogg",
}

// IsMedia checks whether name is an audio, image, or video file based on
// its extension.
func IsMedia(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	typ := mime.TypeByExtension(ext)
	if typ == "" {
		typ = mediaExtensions[ext]
	}
	for _, prefix := range []string{"audio/", "image/", "video/"} {
		if strings.HasPrefix(typ, prefix) {
			return true
		}
	}
	return false
}

// HasMedia searches root depth-first, stopping at the first media file.
// Unreadable subdirectories are skipped.
func HasMedia(ctx context.Context, root string) (bool, error) {
	var found bool
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() && IsMedia(d.Name()) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("storage: search %s: %w", root, err)
	}
	return found, nil
}
