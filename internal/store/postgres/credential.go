package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loothing/lodestone/internal/domain"
)

type CredentialRepo struct {
	pool *pgxpool.Pool
}

func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

const credentialColumns = `id, key_prefix, secret_hash, client_id, tenant_id, description,
	 capabilities, events_per_minute, max_connections, active, created_at, last_used_at,
	 total_events, total_connections`

func (r *CredentialRepo) Create(ctx context.Context, cred *domain.Credential) error {
	caps, err := json.Marshal(cred.Capabilities)
	if err != nil {
		return fmt.Errorf("credentialRepo.Create: marshal capabilities: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO credentials (id, key_prefix, secret_hash, client_id, tenant_id, description,
		     capabilities, events_per_minute, max_connections, active, created_at, last_used_at,
		     total_events, total_connections)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		cred.ID, cred.KeyPrefix, cred.SecretHash, cred.ClientID, cred.TenantID,
		nilIfEmpty(cred.Description), caps, cred.EventsPerMinute, cred.MaxConnections,
		cred.Active, cred.CreatedAt, cred.LastUsedAt,
		cred.TotalEvents, cred.TotalConnections,
	)
	if err != nil {
		return fmt.Errorf("credentialRepo.Create: %w", err)
	}

	return nil
}

func (r *CredentialRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Credential, error) {
	cred, err := r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("credentialRepo.GetByID: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepo) GetByPrefix(ctx context.Context, prefix string) (*domain.Credential, error) {
	cred, err := r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE key_prefix = $1`, prefix))
	if err != nil {
		return nil, fmt.Errorf("credentialRepo.GetByPrefix: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepo) GetByClientID(ctx context.Context, clientID string) (*domain.Credential, error) {
	cred, err := r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE client_id = $1`, clientID))
	if err != nil {
		return nil, fmt.Errorf("credentialRepo.GetByClientID: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepo) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE credentials SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("credentialRepo.UpdateLastUsed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credentialRepo.UpdateLastUsed: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *CredentialRepo) AddUsage(ctx context.Context, id uuid.UUID, events, connections int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE credentials
		 SET total_events = total_events + $1, total_connections = total_connections + $2
		 WHERE id = $3`,
		events, connections, id)
	if err != nil {
		return fmt.Errorf("credentialRepo.AddUsage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credentialRepo.AddUsage: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *CredentialRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE credentials SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("credentialRepo.SetActive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credentialRepo.SetActive: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *CredentialRepo) scanOne(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	var description *string
	var caps []byte

	err := row.Scan(&cred.ID, &cred.KeyPrefix, &cred.SecretHash, &cred.ClientID,
		&cred.TenantID, &description, &caps, &cred.EventsPerMinute, &cred.MaxConnections,
		&cred.Active, &cred.CreatedAt, &cred.LastUsedAt,
		&cred.TotalEvents, &cred.TotalConnections)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cred.Description = derefStr(description)
	if err = json.Unmarshal(caps, &cred.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}

	return &cred, nil
}

// --- Helpers ---

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
