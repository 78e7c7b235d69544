package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"roomsignal/internal/client"
	"roomsignal/internal/core/domain"
	"roomsignal/pkg/validation"

	"github.com/spf13/cobra"
)

type joinOptions struct {
	url     string
	room    string
	timeout time.Duration
}

func newJoinCmd(root *rootOptions) *cobra.Command {
	opts := &joinOptions{}
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and print signaling traffic",
		Long: `Connect to the signaling endpoint, join a room and print every envelope
received as a JSON line. Lines read from stdin are sent as raw envelopes,
so offers and candidates can be typed or piped in.

Examples:
  roomctl join --room lobby
  echo '{"kind":"offer","target":"c-2","payload":{}}' | roomctl join --room lobby`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateRoomID(opts.room); err != nil {
				return err
			}
			if err := validation.ValidateURL(opts.url); err != nil {
				return fmt.Errorf("--url: %w", err)
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runJoin(ctx, root, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:3000/ws", "signaling WebSocket URL")
	cmd.Flags().StringVar(&opts.room, "room", "", "room to join")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "connect timeout")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func runJoin(ctx context.Context, root *rootOptions, opts *joinOptions, in io.Reader, out io.Writer) error {
	log := root.logger()
	defer log.Sync()

	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	c, err := client.Dial(dialCtx, opts.url, root.token)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	log.Infow("connected", "connection_id", c.ID(), "heartbeat_interval", c.HeartbeatInterval())
	if err := printJSON(out, domain.NewWelcome(c.ID(), c.Welcome().UserID, c.HeartbeatInterval(), c.Welcome().MaxMessageBytes)); err != nil {
		return err
	}
	if err := c.Join(domain.RoomID(opts.room)); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}

	go c.KeepAlive(ctx)
	go forwardInput(ctx, c, in, log.Warnw)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-c.Messages():
			if !ok {
				if err := c.Err(); err != nil {
					return fmt.Errorf("connection lost: %w", err)
				}
				return nil
			}
			if err := printJSON(out, env); err != nil {
				return err
			}
		}
	}
}

// forwardInput sends each non-empty line of in as a frame.
func forwardInput(ctx context.Context, c *client.Client, in io.Reader, warn func(string, ...interface{})) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := c.SendRaw(append([]byte(nil), line...)); err != nil {
			warn("failed to send input line", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		warn("failed to read input", "error", err)
	}
}
