package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"danmud/internal/config"
	"danmud/internal/variant"
)

// buildRootCmdWith constructs the command tree. Running the root without a
// subcommand serves.
func buildRootCmdWith(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "danmud",
		Short:         "Supervisor for the danmu JS server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug|info|warn|error (defaults to config, then info)")
	pf.StringVar(&opts.LogFormat, "log-format", "", "Log format: json|console (defaults to config, then json)")

	// logOverride applies the persistent log flags on top of file and env.
	logOverride := func(c *config.Config) {
		if opts.LogLevel != "" {
			c.LogLevel = opts.LogLevel
		}
		if opts.LogFormat != "" {
			c.LogFormat = opts.LogFormat
		}
	}

	var sf serveFlags
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the front door and supervise worker generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts.ConfigPath, nil, func(c *config.Config) {
				sf.apply(cmd.Flags(), c)
				logOverride(c)
			})
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, serveOptions{noWatch: sf.noWatch}, log)
		},
	}
	sf.register(serveCmd.Flags())
	root.AddCommand(serveCmd)
	root.Flags().AddFlagSet(serveCmd.Flags())
	root.RunE = serveCmd.RunE

	variantCmd := &cobra.Command{
		Use:   "variant",
		Short: "Print the resolved variant and the installed variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts.ConfigPath, nil, logOverride)
			if err != nil {
				return err
			}
			return printVariant(cmd.OutOrStdout(), cfg)
		},
	}
	root.AddCommand(variantCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cmd.OutOrStdout(), true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout()) }})
	root.AddCommand(completionCmd)
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

func printVariant(w io.Writer, cfg config.Config) error {
	r := variant.Resolver{Root: cfg.VariantsRoot, MarkerFile: cfg.MarkerFile, Entry: cfg.Entry}
	v, err := r.Resolve()
	if err != nil {
		return err
	}
	installed, err := variant.Installed(cfg.VariantsRoot)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "variant:   %s\n", v.Kind)
	fmt.Fprintf(w, "base dir:  %s\n", v.BaseDir)
	fmt.Fprintf(w, "entry:     %s\n", v.Entry)
	fmt.Fprintf(w, "installed:")
	for _, k := range installed {
		fmt.Fprintf(w, " %s", k)
	}
	fmt.Fprintln(w)
	return nil
}
