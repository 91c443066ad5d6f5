// Package postgres holds the pgx-backed persistence layer: credential
// lookup for authentication and completed-encounter storage.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loothing/lodestone/internal/domain"
)

type Store struct {
	pool        *pgxpool.Pool
	credentials *CredentialRepo
	encounters  *EncounterRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:        pool,
		credentials: NewCredentialRepo(pool),
		encounters:  NewEncounterRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Credentials() domain.CredentialRepository { return s.credentials }
func (s *Store) Encounters() *EncounterRepo               { return s.encounters }
