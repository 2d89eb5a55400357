package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// PGRepo is the pgx-backed tenant store.
type PGRepo struct {
	db *pgxpool.Pool
}

func NewPGRepo(db *pgxpool.Pool) *PGRepo {
	return &PGRepo{db: db}
}

const tenantColumns = `
	id, name, sender_address, provider_account, provider_secret,
	require_signature, active, status, limits, merchant_id,
	created_at, updated_at
`

func scanTenant(row pgx.Row) (*model.Tenant, error) {
	var t model.Tenant
	var limitsJSON []byte
	err := row.Scan(
		&t.ID, &t.Name, &t.SenderAddress, &t.ProviderAccount, &t.ProviderSecret,
		&t.RequireSignature, &t.Active, &t.Status, &limitsJSON, &t.MerchantID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTenantNotFound
		}
		return nil, err
	}
	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &t.Limits); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (r *PGRepo) GetByDestination(ctx context.Context, canonical string) (*model.Tenant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenant WHERE sender_address = $1`, canonical)
	return scanTenant(row)
}

func (r *PGRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenant WHERE id = $1`, id)
	return scanTenant(row)
}

func (r *PGRepo) UpdateCredentials(ctx context.Context, id uuid.UUID, account, secret string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tenant
		SET provider_account = $2, provider_secret = $3, updated_at = $4
		WHERE id = $1
	`, id, account, secret, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTenantNotFound
	}
	return nil
}

func (r *PGRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	status := model.TenantActive
	if !active {
		status = model.TenantInactive
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE tenant
		SET active = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, id, active, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTenantNotFound
	}
	return nil
}
