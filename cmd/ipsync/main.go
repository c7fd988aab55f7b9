package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ipsync"
)

var flags = struct {
	Verbose bool
	Pretty  bool
	IP      string
	Iface   string
}{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ipsync",
		Short: "Keep DNS records and a database whitelist pointed at this machine's public IP",
		Long: `ipsync detects the machine's public IP address, compares it with the
last address stored on disk, and when it changed updates the IP whitelist
of an OVH CloudDB service and the Cloudflare A records of the configured
domains. Run it from cron or a systemd timer.

Configuration comes from the environment; see ipsync setup --help and the
package documentation for the variable names.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.Pretty, "pretty", false, "human-readable log output instead of JSON")
	root.Flags().StringVar(&flags.IP, "ip", "", "use this address instead of detecting it")
	root.Flags().StringVar(&flags.Iface, "iface", "", "read the address from this network interface instead of a web service")
	root.AddCommand(newSetupCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func newLogger() zerolog.Logger {
	var w io.Writer = os.Stderr
	if flags.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	level := zerolog.InfoLevel
	if flags.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func runSync(ctx context.Context) error {
	logger := newLogger()

	cfg, err := ipsync.LoadConfig()
	if err != nil {
		return err
	}

	options := []ipsync.Option{ipsync.WithLogger(logger)}
	switch {
	case flags.IP != "":
		options = append(options, ipsync.UsingResolver(ipsync.FromString(flags.IP)))
	case flags.Iface != "":
		options = append(options, ipsync.UsingResolver(ipsync.InterfaceResolver(flags.Iface)))
	}

	client, err := ipsync.New(cfg, options...)
	if err != nil {
		return err
	}

	outcome, err := client.Sync(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("outcome", string(outcome)).Msg("done")
	return nil
}
