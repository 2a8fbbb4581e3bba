//go:build windows

package archive

import "archive/tar"

// copyOwnership is a no-op on Windows, which has no uid/gid concept in the
// sense spec section 4.2 describes.
func copyOwnership(hdr *tar.Header, ownerRef string) error {
	return nil
}
