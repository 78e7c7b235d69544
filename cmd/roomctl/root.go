package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"roomsignal/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	token    string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "roomctl",
		Short: "Inspect and exercise a roomsignal server",
		Long: `roomctl talks to a roomsignal server: join a room over the signaling
WebSocket, list rooms from the REST API, or follow room events published
on Redis.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ROOMSIGNAL_TOKEN"), "bearer token (defaults to $ROOMSIGNAL_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	cmd.AddCommand(
		newJoinCmd(opts),
		newRoomsCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() *zap.SugaredLogger {
	return logger.New(o.logLevel).Sugar()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// printJSON writes v as one JSON line.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
