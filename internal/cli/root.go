// Package cli implements the speedsync timing client commands.
package cli

import (
	"context"
	"fmt"

	"github.com/okian/speedsync/internal/client/agent"
	"github.com/okian/speedsync/internal/config"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	ServerURL  string
	CacheDir   string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{formatText, formatJSON}

// NewRootCommand creates the root command for the speedsync client.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "speedsync",
		Short: "SpeedSync offline-first race timer",
		Long: `Record finish times at the line and sync them to the result server.

Results are kept in a local cache first and pushed whenever the server is
reachable, so a dropped connection never loses a finish.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (default $SPEEDSYNC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "", "result server base URL (overrides server_url)")
	cmd.PersistentFlags().StringVar(&opts.CacheDir, "cache-dir", "", "local cache directory (overrides cache_dir)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", formatText, "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig layers the flag overrides on top of config.Load.
func (o *RootOptions) loadConfig(ctx context.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigFile != "" {
		cfg, err = config.LoadFrom(ctx, o.ConfigFile)
	} else {
		cfg, err = config.Load(ctx)
	}
	if err != nil {
		return nil, err
	}
	if o.ServerURL != "" {
		cfg.ServerURL = o.ServerURL
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

// openAgent loads config, sets up logging on stderr and builds the agent.
func (o *RootOptions) openAgent(cmd *cobra.Command) (*agent.Agent, *config.Config, error) {
	ctx := cmd.Context()
	cfg, err := o.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := logger.InitWith(cmd.ErrOrStderr(), cfg.LogFormat); err != nil {
		return nil, nil, err
	}
	l := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		l.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	a, err := agent.New(ctx, cfg, agent.WithLogger(l.Named("speedsync")))
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func closeAgent(cmd *cobra.Command, a *agent.Agent) {
	if err := a.Close(); err != nil {
		logger.Get().Error(cmd.Context(), "closing local cache failed", logger.Error(err))
	}
}
