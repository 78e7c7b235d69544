package main

import (
	"context"
	"errors"
	"fmt"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/infrastructure/distributed"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	redisAddr string
	password  string
	db        int
	room      string
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow room events published on Redis",
		Long: `Subscribe to the room event channel and print each event as a JSON line.
Servers publish only when directory.event_bus is enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client := redis.NewClient(&redis.Options{
				Addr:     opts.redisAddr,
				Password: opts.password,
				DB:       opts.db,
			})
			defer client.Close()
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to reach Redis at %s: %w", opts.redisAddr, err)
			}

			out := cmd.OutOrStdout()
			bus := distributed.NewEventBus(client, "", root.logger())
			err := bus.Subscribe(ctx, func(event *domain.RoomEvent) error {
				if opts.room != "" && string(event.RoomID) != opts.room {
					return nil
				}
				return printJSON(out, event)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.redisAddr, "redis", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&opts.password, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&opts.db, "redis-db", 0, "Redis database")
	cmd.Flags().StringVar(&opts.room, "room", "", "only print events for this room")
	return cmd
}
