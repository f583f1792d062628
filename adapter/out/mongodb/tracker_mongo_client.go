// Package mongodb stores applications and email logs in MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type ClientConfig struct {
	AppName         string
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		AppName:         "tracker",
		MaxPoolSize:     50,
		MinPoolSize:     5,
		MaxConnIdleTime: 30 * time.Second,
		ConnectTimeout:  10 * time.Second,
	}
}

// Connect dials uri and waits for the primary to answer a ping.
func Connect(ctx context.Context, uri string, cfg ClientConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetAppName(cfg.AppName).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// Indexer is implemented by adapters that own collections.
type Indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func EnsureIndexes(ctx context.Context, adapters ...Indexer) error {
	for _, a := range adapters {
		if err := a.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
