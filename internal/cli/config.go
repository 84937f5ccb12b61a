package cli

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"danmud/internal/common/fsutil"
	"danmud/internal/config"
)

// serveFlags mirror the config keys that are commonly set by hand.
type serveFlags struct {
	addr          string
	variantsRoot  string
	entry         string
	envFile       string
	markerFile    string
	nodeBin       string
	workerCommand string
	workers       int
	adminToken    string
	forcePoll     bool
	noWatch       bool
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	d := config.Defaults()
	fs.StringVar(&f.addr, "addr", d.Addr, "HTTP listen address")
	fs.StringVar(&f.variantsRoot, "variants-root", d.VariantsRoot, "Directory holding danmu_api_<variant> trees")
	fs.StringVar(&f.entry, "entry", d.Entry, "Entry module relative to the variant directory")
	fs.StringVar(&f.envFile, "env-file", d.EnvFile, "KEY=value environment file")
	fs.StringVar(&f.markerFile, "marker-file", "", "File holding DANMU_API_VARIANT (defaults to --env-file)")
	fs.StringVar(&f.nodeBin, "node-bin", d.NodeBin, "Node executable used with the built-in bootstrap")
	fs.StringVar(&f.workerCommand, "worker-command", "", "Custom worker executable speaking the worker protocol")
	fs.IntVar(&f.workers, "workers", d.WorkersPerGeneration, "Worker processes per generation")
	fs.StringVar(&f.adminToken, "admin-token", "", "Bearer token required by mutating admin routes")
	fs.BoolVar(&f.forcePoll, "force-poll", false, "Use polling instead of native file notifications")
	fs.BoolVar(&f.noWatch, "no-watch", false, "Disable hot reload on file changes")
}

// apply copies flags the user set explicitly onto c.
func (f *serveFlags) apply(fs *pflag.FlagSet, c *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("addr", func() { c.Addr = f.addr })
	set("variants-root", func() { c.VariantsRoot = f.variantsRoot })
	set("entry", func() { c.Entry = f.entry })
	set("env-file", func() { c.EnvFile = f.envFile })
	set("marker-file", func() { c.MarkerFile = f.markerFile })
	set("node-bin", func() { c.NodeBin = f.nodeBin })
	set("worker-command", func() { c.WorkerCommand = f.workerCommand })
	set("workers", func() { c.WorkersPerGeneration = f.workers })
	set("admin-token", func() { c.AdminToken = f.adminToken })
	set("force-poll", func() { c.ForcePoll = f.forcePoll })
}

// resolveConfig loads the optional file, applies environment overrides and
// defaults, expands paths and validates the result.
func resolveConfig(path string, lookup func(string) (string, bool), override func(*config.Config)) (config.Config, error) {
	var c config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return c, fmt.Errorf("load config %s: %w", path, err)
		}
		c = loaded
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := config.ApplyEnv(&c, lookup); err != nil {
		return c, err
	}
	if override != nil {
		override(&c)
	}
	c.ApplyDefaults()
	for _, p := range []*string{&c.VariantsRoot, &c.EnvFile, &c.MarkerFile, &c.TLSCertFile, &c.TLSKeyFile} {
		if *p == "" {
			continue
		}
		abs, err := fsutil.AbsPath(*p)
		if err != nil {
			return c, err
		}
		*p = abs
	}
	for i, d := range c.WatchExtraDirs {
		abs, err := fsutil.AbsPath(d)
		if err != nil {
			return c, err
		}
		c.WatchExtraDirs[i] = abs
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
