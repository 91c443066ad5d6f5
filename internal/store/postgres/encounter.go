package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loothing/lodestone/internal/domain"
)

type EncounterRepo struct {
	pool *pgxpool.Pool
}

func NewEncounterRepo(pool *pgxpool.Pool) *EncounterRepo {
	return &EncounterRepo{pool: pool}
}

// StoreCompletedUnits persists a batch of completed encounters and their
// participants in one transaction. Returns the number stored.
func (r *EncounterRepo) StoreCompletedUnits(ctx context.Context, units []*domain.Encounter, sourceLabel string, tenantID *uuid.UUID) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("encounterRepo.StoreCompletedUnits: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, unit := range units {
		if unit.ID == uuid.Nil {
			unit.ID = uuid.New()
		}

		participants, err := json.Marshal(unit.Participants)
		if err != nil {
			return 0, fmt.Errorf("encounterRepo.StoreCompletedUnits: marshal participants: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO encounters (id, tenant_id, kind, name, difficulty, success,
			     start_time, end_time, duration_ms, participants, event_count, source_label, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (id) DO NOTHING`,
			unit.ID, tenantID, unit.Kind, unit.Name, nilIfEmpty(unit.Difficulty),
			unit.Success, unit.StartTime, unit.EndTime, unit.Duration.Milliseconds(),
			participants, unit.EventCount, sourceLabel, time.Now(),
		)
		if err != nil {
			return 0, fmt.Errorf("encounterRepo.StoreCompletedUnits: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("encounterRepo.StoreCompletedUnits: commit: %w", err)
	}

	return len(units), nil
}

// ListRecent returns the most recently stored encounters, newest first.
func (r *EncounterRepo) ListRecent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*domain.Encounter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, name, difficulty, success, start_time, end_time, duration_ms,
		        participants, event_count
		 FROM encounters
		 WHERE tenant_id IS NOT DISTINCT FROM $1
		 ORDER BY end_time DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("encounterRepo.ListRecent: %w", err)
	}
	defer rows.Close()

	var units []*domain.Encounter
	for rows.Next() {
		var unit domain.Encounter
		var difficulty *string
		var durationMS int64
		var participants []byte

		err = rows.Scan(&unit.ID, &unit.Kind, &unit.Name, &difficulty, &unit.Success,
			&unit.StartTime, &unit.EndTime, &durationMS, &participants, &unit.EventCount)
		if err != nil {
			return nil, fmt.Errorf("encounterRepo.ListRecent: scan: %w", err)
		}

		unit.Difficulty = derefStr(difficulty)
		unit.Duration = time.Duration(durationMS) * time.Millisecond
		if err = json.Unmarshal(participants, &unit.Participants); err != nil {
			return nil, fmt.Errorf("encounterRepo.ListRecent: unmarshal participants: %w", err)
		}

		units = append(units, &unit)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("encounterRepo.ListRecent: rows: %w", err)
	}

	return units, nil
}
