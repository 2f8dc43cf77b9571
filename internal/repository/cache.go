package repository

import (
	"context"
	"errors"
	"fmt"

	"credential_verifier/types"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type DataCacheRepository interface {
	GetDataByHash(ctx context.Context, hash string) (string, error)
	GetEntry(ctx context.Context, hash string) (*types.ExtractionCacheEntry, error)
	SaveData(ctx context.Context, hash string, data string) error
}

type dataCacheRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewDataCacheRepository(db DBTX, logger *zap.Logger) DataCacheRepository {
	return &dataCacheRepository{
		db:     db,
		logger: logger,
	}
}

// GetDataByHash получает данные из кэша по хэшу; промах возвращает пустую строку без ошибки
func (r *dataCacheRepository) GetDataByHash(ctx context.Context, hash string) (string, error) {
	entry, err := r.GetEntry(ctx, hash)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", nil
	}
	return entry.Data, nil
}

func (r *dataCacheRepository) GetEntry(ctx context.Context, hash string) (*types.ExtractionCacheEntry, error) {
	query := `SELECT id, data_hash, data, created_at FROM verification_data_cache WHERE data_hash = $1`

	var entry types.ExtractionCacheEntry
	err := r.db.QueryRow(ctx, query, hash).Scan(&entry.ID, &entry.DataHash, &entry.Data, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("data not found in cache", zap.String("hash", hash))
			return nil, nil
		}
		r.logger.Error("failed to read cache", zap.String("hash", hash), zap.Error(err))
		return nil, fmt.Errorf("failed to read cache for hash %s: %w", hash, err)
	}

	r.logger.Debug("data retrieved from cache", zap.String("hash", hash))
	return &entry, nil
}

// SaveData сохраняет данные по хэшу, перезаписывая существующую запись
func (r *dataCacheRepository) SaveData(ctx context.Context, hash string, data string) error {
	query := `
		INSERT INTO verification_data_cache (data_hash, data)
		VALUES ($1, $2)
		ON CONFLICT (data_hash) DO UPDATE SET data = EXCLUDED.data
	`

	if _, err := r.db.Exec(ctx, query, hash, data); err != nil {
		r.logger.Error("failed to save data to cache", zap.String("hash", hash), zap.Error(err))
		return fmt.Errorf("failed to save data to cache for hash %s: %w", hash, err)
	}

	r.logger.Debug("data saved to cache", zap.String("hash", hash))
	return nil
}
