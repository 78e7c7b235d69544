package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix            = "roomsignal:"
	schemaVersionKey     = keyPrefix + "schema:version"
	roomsIndexKey        = keyPrefix + "rooms"
	currentSchemaVersion = 2
)

type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range migrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration",
				"version", migration.Version,
				"name", migration.Name,
			)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "rooms index",
			Up: func(ctx context.Context, client *redis.Client) error {
				// An index written by an older build as a plain key blocks SADD.
				kind, err := client.Type(ctx, roomsIndexKey).Result()
				if err != nil {
					return err
				}
				if kind != "none" && kind != "set" {
					return client.Del(ctx, roomsIndexKey).Err()
				}
				return nil
			},
		},
		{
			Version: 2,
			Name:    "ordered member sets",
			Up: func(ctx context.Context, client *redis.Client) error {
				// v1 stored members as plain sets; rewrite them as sorted sets
				// scored by insertion order.
				ids, err := client.SMembers(ctx, roomsIndexKey).Result()
				if err != nil {
					return err
				}
				for _, id := range ids {
					key := membersKey(id)
					kind, err := client.Type(ctx, key).Result()
					if err != nil {
						return err
					}
					if kind != "set" {
						continue
					}
					members, err := client.SMembers(ctx, key).Result()
					if err != nil {
						return err
					}
					_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						for i, m := range members {
							pipe.ZAdd(ctx, key, redis.Z{Score: float64(i), Member: m})
						}
						return nil
					})
					if err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
