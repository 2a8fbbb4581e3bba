package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samuel/olut/internal/olut/archive"
	"github.com/samuel/olut/internal/olut/builder"
	"github.com/samuel/olut/internal/olut/errs"
	"github.com/samuel/olut/internal/olut/metadata"
	"github.com/samuel/olut/internal/olut/scm"
	"github.com/samuel/olut/internal/olut/template"
)

// metaFlags implements flag.Value for repeatable -m name=value pairs.
type metaFlags struct{ pairs map[string]string }

func (m *metaFlags) String() string { return "" }

func (m *metaFlags) Set(s string) error {
	if m.pairs == nil {
		m.pairs = map[string]string{}
	}
	kv := strings.SplitN(s, "=", 2)
	if len(kv) != 2 {
		return errs.New(errs.CLIUsage, "", "-m expects name=value, got "+s)
	}
	m.pairs[kv[0]] = kv[1]
	return nil
}

// --- build ---

type buildCommand struct {
	meta          metaFlags
	metaDir       string
	ignoreUnknown bool
}

func (c *buildCommand) Name() string      { return "build" }
func (c *buildCommand) Args() string      { return "<sourcepath> [outpath]" }
func (c *buildCommand) ShortHelp() string { return "Build a package archive from a source tree" }
func (c *buildCommand) LongHelp() string {
	return "Walk a source tree, merge SCM and project metadata, and emit a .tgz package archive."
}
func (c *buildCommand) Hidden() bool { return false }

func (c *buildCommand) Register(fs *flag.FlagSet) {
	fs.Var(&c.meta, "m", "metadata override name=value (repeatable)")
	fs.Var(&c.meta, "meta", "metadata override name=value (repeatable)")
	fs.StringVar(&c.metaDir, "metadir", "", "metadata directory (default: <sourcepath>/olut)")
	fs.BoolVar(&c.ignoreUnknown, "ignoreunknown", false, "also exclude git-unknown files")
}

func (c *buildCommand) Run(ctx *Ctx, args []string) error {
	if len(args) < 1 {
		return errs.New(errs.CLIUsage, "", "build requires <sourcepath>")
	}
	source := args[0]
	outdir := filepath.Dir(source)
	if len(args) >= 2 {
		outdir = args[1]
	}

	outpath, err := builder.Build(builder.Options{
		SourcePath:    source,
		OutputDir:     outdir,
		MetaDir:       c.metaDir,
		Overrides:     c.meta.pairs,
		IgnoreUnknown: c.ignoreUnknown,
		Provider:      scm.Git{},
	})
	if err != nil {
		return err
	}
	ctx.Log.Out.Println(outpath)
	return nil
}

// --- install ---

type installCommand struct {
	meta     metaFlags
	activate bool
}

func (c *installCommand) Name() string      { return "install" }
func (c *installCommand) Args() string      { return "<pkgpath>" }
func (c *installCommand) ShortHelp() string { return "Install a package archive" }
func (c *installCommand) LongHelp() string {
	return "Extract a package archive into the install root, optionally activating it."
}
func (c *installCommand) Hidden() bool { return false }

func (c *installCommand) Register(fs *flag.FlagSet) {
	fs.Var(&c.meta, "m", "metadata override name=value (repeatable)")
	fs.Var(&c.meta, "meta", "metadata override name=value (repeatable)")
	fs.BoolVar(&c.activate, "a", false, "activate the installed version")
	fs.BoolVar(&c.activate, "activate", false, "activate the installed version")
}

func (c *installCommand) Run(ctx *Ctx, args []string) error {
	if len(args) != 1 {
		return errs.New(errs.CLIUsage, "", "install requires <pkgpath>")
	}
	return ctx.Lifecycle.Install(args[0], c.activate, c.meta.pairs)
}

// --- uninstall ---

type uninstallCommand struct{}

func (c *uninstallCommand) Name() string      { return "uninstall" }
func (c *uninstallCommand) Args() string      { return "<pkg> <spec>" }
func (c *uninstallCommand) ShortHelp() string { return "Uninstall matching versions of a package" }
func (c *uninstallCommand) LongHelp() string {
	return "Remove every installed version matching spec, refusing to remove the active one."
}
func (c *uninstallCommand) Hidden() bool           { return false }
func (c *uninstallCommand) Register(*flag.FlagSet) {}

func (c *uninstallCommand) Run(ctx *Ctx, args []string) error {
	if len(args) != 2 {
		return errs.New(errs.CLIUsage, "", "uninstall requires <pkg> <spec>")
	}
	return ctx.Lifecycle.Uninstall(args[0], args[1])
}

// --- list ---

type listCommand struct{}

func (c *listCommand) Name() string      { return "list" }
func (c *listCommand) Args() string      { return "" }
func (c *listCommand) ShortHelp() string { return "List installed packages and versions" }
func (c *listCommand) LongHelp() string {
	return "One block per package, one line per version: <current?> <version> branch:<b> revision:<r> tag:<t>."
}
func (c *listCommand) Hidden() bool           { return false }
func (c *listCommand) Register(*flag.FlagSet) {}

func (c *listCommand) Run(ctx *Ctx, args []string) error {
	pkgs, err := ctx.Store.ListPackages()
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		ctx.Log.Out.Println(pkg + ":")
		versions, err := ctx.Store.ListVersions(pkg)
		if err != nil {
			return err
		}
		current, hasCurrent := ctx.Store.Current(pkg)
		for _, v := range versions {
			marker := " "
			if hasCurrent && v.Version == current {
				marker = "@"
			}
			ctx.Log.Out.Println("  " + marker + " " + v.Version + scmSummary(v.Metadata))
		}
	}
	return nil
}

func scmSummary(doc metadata.Document) string {
	raw, ok := doc["scm"].(map[string]interface{})
	if !ok {
		return ""
	}
	branch, _ := raw["branch"].(string)
	revision, _ := raw["revision"].(string)
	if len(revision) > 8 {
		revision = revision[:8]
	}
	tag, _ := raw["tag"].(string)
	return fmt.Sprintf(" branch:%s revision:%s tag:%s", branch, revision, tag)
}

// --- info ---

type infoCommand struct{}

func (c *infoCommand) Name() string           { return "info" }
func (c *infoCommand) Args() string           { return "<pkgpath>" }
func (c *infoCommand) ShortHelp() string      { return "Dump archive metadata as YAML" }
func (c *infoCommand) LongHelp() string       { return "Open pkgpath and print its .olut/metadata.yaml to stdout." }
func (c *infoCommand) Hidden() bool           { return false }
func (c *infoCommand) Register(*flag.FlagSet) {}

func (c *infoCommand) Run(ctx *Ctx, args []string) error {
	if len(args) != 1 {
		return errs.New(errs.CLIUsage, "", "info requires <pkgpath>")
	}
	r, err := archive.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()
	content, err := r.Metadata()
	if err != nil {
		return err
	}
	_, err = ctx.Log.Out.Writer().Write(content)
	return err
}

// --- activate ---

type activateCommand struct{}

func (c *activateCommand) Name() string           { return "activate" }
func (c *activateCommand) Args() string           { return "<pkg> <spec>" }
func (c *activateCommand) ShortHelp() string      { return "Activate the version matching spec" }
func (c *activateCommand) LongHelp() string       { return "Resolve spec to a single version and make it current." }
func (c *activateCommand) Hidden() bool           { return false }
func (c *activateCommand) Register(*flag.FlagSet) {}

func (c *activateCommand) Run(ctx *Ctx, args []string) error {
	if len(args) != 2 {
		return errs.New(errs.CLIUsage, "", "activate requires <pkg> <spec>")
	}
	return ctx.Lifecycle.Activate(args[0], args[1], true)
}

// --- deactivate ---

type deactivateCommand struct{}

func (c *deactivateCommand) Name() string           { return "deactivate" }
func (c *deactivateCommand) Args() string           { return "<pkg>" }
func (c *deactivateCommand) ShortHelp() string      { return "Deactivate a package's current version" }
func (c *deactivateCommand) LongHelp() string       { return "Run the deactivate hook and remove the current symlink." }
func (c *deactivateCommand) Hidden() bool           { return false }
func (c *deactivateCommand) Register(*flag.FlagSet) {}

func (c *deactivateCommand) Run(ctx *Ctx, args []string) error {
	if len(args) != 1 {
		return errs.New(errs.CLIUsage, "", "deactivate requires <pkg>")
	}
	return ctx.Lifecycle.Deactivate(args[0])
}

// --- render ---

type renderCommand struct {
	pvp string
}

func (c *renderCommand) Name() string      { return "render" }
func (c *renderCommand) Args() string      { return "<src> [dst]" }
func (c *renderCommand) ShortHelp() string { return "Render a template against package metadata" }
func (c *renderCommand) LongHelp() string {
	return "Substitute %(field)s tokens in src using metadata loaded from PKG_VERSION_PATH."
}
func (c *renderCommand) Hidden() bool { return false }

func (c *renderCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.pvp, "pvp", os.Getenv("PKG_VERSION_PATH"), "package-version path (default: $PKG_VERSION_PATH)")
}

func (c *renderCommand) Run(ctx *Ctx, args []string) error {
	if len(args) < 1 {
		return errs.New(errs.CLIUsage, "", "render requires <src>")
	}
	dst := ""
	if len(args) >= 2 {
		dst = args[1]
	}
	outpath, err := template.Render(template.Options{Src: args[0], Dst: dst, PVP: c.pvp})
	if err != nil {
		return err
	}
	ctx.Log.Out.Println(outpath)
	return nil
}

// --- version ---

type versionCommand struct{}

func (c *versionCommand) Name() string           { return "version" }
func (c *versionCommand) Args() string           { return "" }
func (c *versionCommand) ShortHelp() string      { return "Print the olut version" }
func (c *versionCommand) LongHelp() string       { return "Print the olut version and exit." }
func (c *versionCommand) Hidden() bool           { return false }
func (c *versionCommand) Register(*flag.FlagSet) {}

func (c *versionCommand) Run(ctx *Ctx, args []string) error {
	ctx.Log.Out.Println(olutVersion)
	return nil
}
