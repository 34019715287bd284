package voice

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Asset is a synthesized audio file living in its own temp directory.
type Asset struct {
	Path string

	dir  string
	once sync.Once
}

// NewAsset wraps an audio file and the directory Remove will delete.
func NewAsset(dir string, path string) *Asset {
	return &Asset{Path: path, dir: dir}
}

// Remove deletes the asset's directory. Safe to call more than once;
// failures are logged, never returned, so cleanup can't break a run.
func (a *Asset) Remove() {
	a.once.Do(func() {
		if a.dir == "" {
			return
		}
		if err := os.RemoveAll(a.dir); err != nil {
			logrus.WithError(err).Warnln("failed to delete temp audio")
		}
	})
}
