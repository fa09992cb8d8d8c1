//go:build linux

package build

import (
	"os"
	"syscall"

	"github.com/cairnstore/cairn/pkg/model"
)

// fillSysMeta copies the unix stat fields the platform exposes into e
func fillSysMeta(fi os.FileInfo, e *model.FileEntry) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	mode := uint32(st.Mode)
	uid := st.Uid
	gid := st.Gid
	inode := st.Ino
	e.UnixMode = &mode
	e.UnixOwnerID = &uid
	e.UnixGroupID = &gid
	e.FsInode = &inode

	atime := st.Atim.Sec*1000 + st.Atim.Nsec/1e6
	ctime := st.Ctim.Sec*1000 + st.Ctim.Nsec/1e6
	e.TsAccessed = &atime
	e.TsChanged = &ctime
}
