package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Config selects and configures the persistent store.
type Config struct {
	Backend   string          `yaml:"backend"`
	SQL       SQLConfig       `yaml:"sql"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
	// L1 enables the in-process ristretto layer in front of the backend.
	L1 *L1Config `yaml:"l1"`
}

// New builds the configured store. The returned store owns every client it
// created and releases them on Close.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (DocumentStore, error) {
	var (
		backing DocumentStore
		err     error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		backing = NewMemoryStore()
	case BackendSQLite:
		sqlCfg := cfg.SQL
		sqlCfg.Dialect = DialectSQLite
		backing, err = NewSQLStore(ctx, sqlCfg, logger)
	case BackendPostgres:
		sqlCfg := cfg.SQL
		sqlCfg.Dialect = DialectPostgres
		backing, err = NewSQLStore(ctx, sqlCfg, logger)
	case BackendRedis:
		backing, err = NewRedisStore(ctx, &cfg.Redis, logger)
	case BackendFirestore:
		backing, err = newOwnedFirestoreStore(ctx, &cfg.Firestore, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Backend, err)
	}

	if cfg.L1 == nil {
		return backing, nil
	}
	l1, err := NewL1Store(*cfg.L1, backing, logger)
	if err != nil {
		_ = backing.Close()
		return nil, err
	}
	return l1, nil
}

func newOwnedFirestoreStore(ctx context.Context, cfg *FirestoreConfig, logger zerolog.Logger) (*FirestoreStore, error) {
	client, err := NewFirestoreClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s, err := NewFirestoreStore(cfg, client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}
