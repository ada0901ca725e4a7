// p2pcopy is the command-line surface: send and receive endpoints plus the
// rendezvous relay daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/p2p-copy/internal/compress"
	"github.com/kenneth/p2p-copy/internal/config"
	"github.com/kenneth/p2p-copy/internal/relay"
	"github.com/kenneth/p2p-copy/internal/transfer"
)

var (
	log      = logrus.New()
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "p2pcopy",
		Short:         "Chunked file transfer between two endpoints over a rendezvous relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			log.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(sendCommand(), receiveCommand(), relayCommand())

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(exitFor(err))
	}
}

// exitFor maps command errors to the documented exit codes. Transfer errors
// carry their class; anything else (flag or argument problems, relay serve
// failures) exits with the usage code.
func exitFor(err error) int {
	switch {
	case errors.Is(err, transfer.ErrHandshake):
		return transfer.ExitHandshake
	case errors.Is(err, transfer.ErrProtocol):
		return transfer.ExitProtocol
	default:
		return transfer.ExitUsage
	}
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func sendCommand() *cobra.Command {
	var (
		opts         config.Options
		compressMode string
	)
	cmd := &cobra.Command{
		Use:   "send [flags] FILES...",
		Short: "Send files or directory trees to the peer holding the same code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			mode, err := compress.ParseMode(compressMode)
			if err != nil {
				return fmt.Errorf("%w: %v", transfer.ErrUsage, err)
			}
			opts.Files = args
			opts.Compress = mode
			return transfer.Send(signalContext(), log, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Server, "server", "", "relay URL, e.g. wss://relay.example")
	cmd.Flags().StringVar(&opts.Code, "code", "", "shared passphrase/code")
	cmd.Flags().BoolVar(&opts.Encrypt, "encrypt", false, "enable end-to-end encryption")
	cmd.Flags().StringVar(&compressMode, "compress", "auto", "compression mode (auto, on, off)")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", config.DefaultChunkSize, "chunk size in bytes")
	cmd.Flags().BoolVar(&opts.Resume, "resume", true, "attempt to resume interrupted transfers")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func receiveCommand() *cobra.Command {
	var opts config.Options
	cmd := &cobra.Command{
		Use:   "receive [flags]",
		Short: "Receive files from the peer holding the same code",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return transfer.Receive(signalContext(), log, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Server, "server", "", "relay URL, e.g. wss://relay.example")
	cmd.Flags().StringVar(&opts.Code, "code", "", "shared passphrase/code")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output directory (default: working directory)")
	cmd.Flags().BoolVar(&opts.Encrypt, "encrypt", false, "enable end-to-end encryption")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func relayCommand() *cobra.Command {
	var (
		configFile string
		listen     string
		certFile   string
		keyFile    string
		useTLS     bool
	)
	cmd := &cobra.Command{
		Use:   "relay [flags]",
		Short: "Run the rendezvous relay",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg := config.DefaultRelayConfig()
			if configFile != "" {
				var err error
				if cfg, err = config.LoadRelayConfig(configFile); err != nil {
					return fmt.Errorf("%w: %v", transfer.ErrUsage, err)
				}
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if useTLS {
				cfg.TLS.Enabled = true
			}
			if certFile != "" {
				cfg.TLS.CertFile = certFile
			}
			if keyFile != "" {
				cfg.TLS.KeyFile = keyFile
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %v", transfer.ErrUsage, err)
			}
			return relay.New(log, relay.NewMetrics()).ListenAndServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to relay yaml config")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, e.g. localhost:8765")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "terminate TLS at the relay")
	cmd.Flags().StringVar(&certFile, "cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&keyFile, "key", "", "TLS private key file")
	return cmd
}
