// Package redis connects to the Redis server used as an optional backend
// for journal synchronization progress.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//	client, err := redis.Connect(ctx, cfg)
package redis
