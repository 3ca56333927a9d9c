// Package valkey provides the Valkey flavour of the rueidis-backed store.
// Valkey speaks the Redis protocol, so command handling is shared with the redis package;
// this package owns connection setup and readiness for Valkey deployments.
package valkey

import (
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragdex/internal/db"
	"github.com/kailas-cloud/ragdex/internal/db/redis"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds connection parameters for a Valkey store.
type Config struct {
	Addrs      []string
	Username   string
	Password   string
	DB         int
	ClientName string
}

// Store implements db.Store for Valkey 8+.
type Store struct {
	*redis.Store
}

// NewStore creates a Valkey store via rueidis using RESP3.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		ClientName:   cfg.ClientName,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{Store: redis.NewStoreFromClient(client)}, nil
}
