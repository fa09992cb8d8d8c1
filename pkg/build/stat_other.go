//go:build !linux

package build

import (
	"os"

	"github.com/cairnstore/cairn/pkg/model"
)

func fillSysMeta(fi os.FileInfo, e *model.FileEntry) {
	mode := uint32(fi.Mode().Perm())
	e.UnixMode = &mode
}
