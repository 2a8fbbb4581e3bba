// Package lifecycle implements olut's install/activate/deactivate/
// uninstall state machine, the hook runner, and activate's revert-on-
// failure behavior (spec section 4.7).
package lifecycle

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/samuel/olut/internal/olut/archive"
	"github.com/samuel/olut/internal/olut/errs"
	"github.com/samuel/olut/internal/olut/metadata"
	"github.com/samuel/olut/internal/olut/resolver"
	"github.com/samuel/olut/internal/olut/store"
)

// NowFunc is overridable in tests so install_date is deterministic.
type NowFunc func() string

// Controller orchestrates the package lifecycle against a single
// install store.
type Controller struct {
	Store *store.Store
	Log   Loggers
	Now   NowFunc
}

// New returns a Controller writing to s and logging through log. A nil
// Out or Err logger in log discards what would be written to it.
func New(s *store.Store, log Loggers) *Controller {
	return &Controller{Store: s, Log: log, Now: defaultNow}
}

func defaultNow() string {
	return nowStamp()
}

// Install implements spec section 4.7's install algorithm.
func (c *Controller) Install(pkgpath string, activate bool, overrides map[string]string) error {
	metaReader, err := archive.Open(pkgpath)
	if err != nil {
		return err
	}
	metaBytes, err := metaReader.Metadata()
	metaReader.Close()
	if err != nil {
		return err
	}
	doc, err := metadata.Load(bytesReader(metaBytes))
	if err != nil {
		return errors.Wrap(err, "parsing archive metadata")
	}
	doc.ApplyOverrides(overrides)
	doc["install_date"] = c.now()

	if err := doc.Validate(); err != nil {
		return errors.Wrap(err, "archive metadata invalid")
	}

	name := doc.String(metadata.KeyName)
	version := doc.String(metadata.KeyVersion)

	target := c.Store.VersionPath(name, version)
	if _, err := os.Stat(target); err == nil {
		return errs.New(errs.AlreadyInstalled, name, name+" "+version+" is already installed")
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", target)
	}

	extractReader, err := archive.Open(pkgpath)
	if err != nil {
		return err
	}
	defer extractReader.Close()
	if err := extractReader.ExtractAll(target, func(rejected string) {
		c.Log.errorf("rejected unsafe archive entry %q", rejected)
	}); err != nil {
		return err
	}

	persisted, err := doc.Bytes()
	if err != nil {
		return errors.Wrap(err, "serializing metadata")
	}
	metaDir := filepath.Join(target, ".olut")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(metaDir, "metadata.yaml"), persisted, 0644); err != nil {
		return errors.Wrap(err, "writing installed metadata")
	}

	if err := runHook(c.Store, name, version, hookInstall, doc, c.Log); err != nil {
		return err
	}

	if activate {
		return c.Activate(name, version, true)
	}
	return nil
}

// Uninstall implements spec section 4.7's uninstall algorithm.
func (c *Controller) Uninstall(pkg, spec string) error {
	versions, err := c.versionStrings(pkg)
	if err != nil {
		return err
	}
	current, hasCurrent := c.Store.Current(pkg)

	vs, err := resolver.Resolve(versions, current, hasCurrent, spec)
	if err != nil {
		return err
	}

	for _, v := range vs {
		if hasCurrent && v == current {
			return errs.New(errs.UninstallActive, pkg, pkg+" "+v+" is active; deactivate first")
		}
	}

	for _, v := range vs {
		if err := os.RemoveAll(c.Store.VersionPath(pkg, v)); err != nil {
			return errors.Wrapf(err, "removing %s %s", pkg, v)
		}
	}
	return c.Store.RemovePackageIfEmpty(pkg)
}

// Activate implements spec section 4.7's activate algorithm, including
// revert-on-hook-failure when revert is true. The swap is guarded by the
// store's advisory per-package lock so a concurrent activate/deactivate
// can't interleave with the symlink swap.
func (c *Controller) Activate(pkg, spec string, revert bool) error {
	unlock, err := c.lockPackage(pkg)
	if err != nil {
		return err
	}
	defer unlock()
	return c.activateLocked(pkg, spec, revert)
}

func (c *Controller) activateLocked(pkg, spec string, revert bool) error {
	versions, err := c.versionStrings(pkg)
	if err != nil {
		return err
	}
	current, hasCurrent := c.Store.Current(pkg)

	vs, err := resolver.Resolve(versions, current, hasCurrent, spec)
	if err != nil {
		return err
	}
	if len(vs) == 0 {
		return errs.New(errs.NoSuchVersion, pkg, "no installed version matches "+spec)
	}
	target := vs[0]

	if hasCurrent && current == target {
		return nil
	}

	priorVersion, hadPrior := current, hasCurrent
	if hadPrior {
		if err := c.deactivateVersion(pkg, priorVersion); err != nil {
			return err
		}
	}

	if err := c.linkCurrent(pkg, target); err != nil {
		return err
	}

	doc, err := c.Store.VersionMetadata(pkg, target)
	if err != nil {
		return err
	}
	hookErr := runHook(c.Store, pkg, target, hookActivate, doc, c.Log)
	if hookErr == nil {
		return nil
	}
	if !revert || !hadPrior {
		return hookErr
	}

	// Revert: undo the symlink swap and bring the prior version back,
	// without re-arming revert for the restoration itself.
	_ = os.Remove(c.Store.CurrentPath(pkg))
	if err := c.activateLocked(pkg, priorVersion, false); err != nil {
		return errors.Wrapf(hookErr, "activation failed and revert to %s also failed: %v", priorVersion, err)
	}
	return hookErr
}

// Deactivate implements spec section 4.7's deactivate algorithm, guarded
// by the same per-package lock Activate uses.
func (c *Controller) Deactivate(pkg string) error {
	unlock, err := c.lockPackage(pkg)
	if err != nil {
		return err
	}
	defer unlock()

	link := c.Store.CurrentPath(pkg)
	fi, err := os.Lstat(link)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "stat %s", link)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return nil
	}

	if _, err := filepath.EvalSymlinks(link); err != nil {
		// Dangling symlink: unlink and return, no hook to run.
		return os.Remove(link)
	}

	version, ok := c.Store.Current(pkg)
	if !ok {
		return os.Remove(link)
	}
	return c.deactivateVersion(pkg, version)
}

func (c *Controller) deactivateVersion(pkg, version string) error {
	doc, err := c.Store.VersionMetadata(pkg, version)
	if err != nil {
		return err
	}
	if err := runHook(c.Store, pkg, version, hookDeactivate, doc, c.Log); err != nil {
		return err
	}
	return os.Remove(c.Store.CurrentPath(pkg))
}

func (c *Controller) linkCurrent(pkg, version string) error {
	link := c.Store.CurrentPath(pkg)
	if err := os.RemoveAll(link); err != nil {
		return errors.Wrapf(err, "clearing %s", link)
	}
	if err := os.Symlink(c.Store.VersionPath(pkg, version), link); err != nil {
		return errors.Wrapf(err, "linking %s -> %s", link, version)
	}
	return nil
}

// lockPackage acquires the store's advisory per-package lock and returns
// a func to release it. A package with no directory yet has nothing to
// race against, so it returns a no-op release rather than creating one
// just to hold a lock file.
func (c *Controller) lockPackage(pkg string) (func(), error) {
	if _, err := os.Stat(c.Store.PackagePath(pkg)); os.IsNotExist(err) {
		return func() {}, nil
	}
	lock := c.Store.Lock(pkg)
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrapf(err, "locking %s", pkg)
	}
	return func() { lock.Unlock() }, nil
}

func (c *Controller) versionStrings(pkg string) ([]string, error) {
	infos, err := c.Store.ListVersions(pkg)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Version
	}
	return out, nil
}

func (c *Controller) now() string {
	if c.Now != nil {
		return c.Now()
	}
	return defaultNow()
}
