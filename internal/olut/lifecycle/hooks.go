package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samuel/olut/internal/olut/errs"
	"github.com/samuel/olut/internal/olut/metadata"
	"github.com/samuel/olut/internal/olut/store"
)

// hookNames olut knows how to invoke; anything else is not a valid hook.
const (
	hookInstall    = "install"
	hookActivate   = "activate"
	hookDeactivate = "deactivate"
)

// runHook executes P/<pkg>/<version>/.olut/<name> if present, per spec
// section 4.7.1. A missing hook file is a no-op success.
func runHook(s *store.Store, pkg, version, name string, doc metadata.Document, log Loggers) error {
	versionPath := s.VersionPath(pkg, version)
	hookPath := filepath.Join(versionPath, ".olut", name)

	if _, err := os.Stat(hookPath); err != nil {
		return nil
	}

	cmd := exec.Command(hookPath)
	cmd.Dir = versionPath
	cmd.Env = hookEnv(s, pkg, version, doc)

	out, err := cmd.CombinedOutput()
	if err != nil {
		log.errorf("hook %s/%s %s failed: %v\n%s", pkg, version, name, err, out)
		return errs.Wrapf(errs.HookFailed, pkg, err, "%s hook for %s %s exited non-zero", name, pkg, version)
	}
	log.debugf("hook %s/%s %s ok\n%s", pkg, version, name, out)
	return nil
}

// hookEnv builds the environment passed to a hook: identity variables,
// the operator's USER/HOME/PATH, and a META_<KEY> entry for every
// top-level scalar metadata value (spec section 4.7.1).
func hookEnv(s *store.Store, pkg, version string, doc metadata.Document) []string {
	env := []string{
		"PKG_NAME=" + pkg,
		"PKG_VERSION=" + version,
		"PKG_PATH=" + s.PackagePath(pkg),
		"PKG_VERSION_PATH=" + s.VersionPath(pkg, version),
	}
	for _, inherited := range []string{"USER", "HOME", "PATH"} {
		if v, ok := os.LookupEnv(inherited); ok {
			env = append(env, inherited+"="+v)
		}
	}
	for key, val := range doc {
		if !metadata.IsScalar(val) {
			continue
		}
		env = append(env, fmt.Sprintf("META_%s=%s", strings.ToUpper(key), metadata.ScalarString(val)))
	}
	return env
}
