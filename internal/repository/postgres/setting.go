package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/models"
)

type SettingRepo struct {
	DB DBTX
}

const getSetting = `-- name: GetSetting
SELECT name, value, updated_by, updated_at FROM credit_settings
WHERE name = $1
`

func (r *SettingRepo) Get(ctx context.Context, name string) (models.CreditSetting, error) {
	rows, _ := r.DB.Query(ctx, getSetting, name)
	setting, err := pgx.CollectOneRow(rows, rowToSetting)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return setting, apperrors.ErrSettingNotFound
	}

	return setting, err
}

const listSettings = `-- name: ListSettings
SELECT name, value, updated_by, updated_at FROM credit_settings
ORDER BY name
`

func (r *SettingRepo) List(ctx context.Context) ([]models.CreditSetting, error) {
	rows, _ := r.DB.Query(ctx, listSettings)
	settings, err := pgx.CollectRows(rows, rowToSetting)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return settings, nil
}

const putSetting = `-- name: PutSetting
INSERT INTO credit_settings (name, value, updated_by, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (name) DO UPDATE
SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = now()
RETURNING name, value, updated_by, updated_at
`

func (r *SettingRepo) Put(ctx context.Context, name string, value int64, updatedBy string) (models.CreditSetting, error) {
	rows, _ := r.DB.Query(ctx, putSetting, name, value, updatedBy)
	setting, err := pgx.CollectOneRow(rows, rowToSetting)
	if err != nil {
		return setting, fmt.Errorf("db error: %w", err)
	}

	return setting, nil
}

func rowToSetting(row pgx.CollectableRow) (models.CreditSetting, error) {
	var s models.CreditSetting
	err := row.Scan(&s.Name, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	return s, err
}
