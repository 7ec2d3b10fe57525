package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/dvalenciano/igflow/internal/models"
)

type ApiKeyRepository interface {
	Exists(ctx context.Context, apiKey string) (bool, error)
	List(ctx context.Context) ([]*models.ApiKey, error)
	Create(ctx context.Context, apiKey *models.ApiKey) (int64, error)
	Remove(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

type apiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) ApiKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Exists(ctx context.Context, apiKey string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM api_keys WHERE api_key = $1`, apiKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("check api key", "error", err)
		return false, err
	}
	return true, nil
}

func (r *apiKeyRepository) List(ctx context.Context) ([]*models.ApiKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, api_key, created_at FROM api_keys ORDER BY id ASC`)
	if err != nil {
		slog.Error("list api keys", "error", err)
		return nil, err
	}
	defer rows.Close()

	var keys []*models.ApiKey
	for rows.Next() {
		var key models.ApiKey
		if err := rows.Scan(&key.ID, &key.Label, &key.ApiKey, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (r *apiKeyRepository) Create(ctx context.Context, apiKey *models.ApiKey) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (label, api_key) VALUES ($1, $2) RETURNING id`,
		apiKey.Label, apiKey.ApiKey).Scan(&id)
	if err != nil {
		slog.Error("create api key", "error", err)
		return 0, err
	}
	return id, nil
}

func (r *apiKeyRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		slog.Error("remove api key", "error", err)
		return err
	}
	return requireRow(res)
}

func (r *apiKeyRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
