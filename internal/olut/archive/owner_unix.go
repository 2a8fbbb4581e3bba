//go:build !windows

package archive

import (
	"archive/tar"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// copyOwnership stats ownerRef (the source root directory) and copies its
// uid/gid/uname/gname onto hdr, so an unprivileged build doesn't emit a
// root-owned .olut/metadata.yaml entry (spec section 4.2).
func copyOwnership(hdr *tar.Header, ownerRef string) error {
	fi, err := os.Stat(ownerRef)
	if err != nil {
		return errors.Wrapf(err, "stat %s for ownership", ownerRef)
	}
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	hdr.Uid = int(stat.Uid)
	hdr.Gid = int(stat.Gid)
	if u, err := user.LookupId(strconv.Itoa(hdr.Uid)); err == nil {
		hdr.Uname = u.Username
	}
	if g, err := user.LookupGroupId(strconv.Itoa(hdr.Gid)); err == nil {
		hdr.Gname = g.Name
	}
	return nil
}
