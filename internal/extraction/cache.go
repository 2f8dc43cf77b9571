package extraction

import (
	"context"
	"encoding/json"

	"credential_verifier/internal/model"

	"go.uber.org/zap"
)

// ResultCache хранит результаты извлечения по хэшу документа
type ResultCache interface {
	GetDataByHash(ctx context.Context, hash string) (string, error)
	SaveData(ctx context.Context, hash string, data string) error
}

type cachingExtractor struct {
	next   Extractor
	cache  ResultCache
	logger *zap.Logger
}

// NewCachingExtractor оборачивает Extractor кэшем: повторная обработка того же файла
// получает тот же результат извлечения, поэтому скоринг остается детерминированным.
func NewCachingExtractor(next Extractor, cache ResultCache, logger *zap.Logger) Extractor {
	return &cachingExtractor{
		next:   next,
		cache:  cache,
		logger: logger,
	}
}

func (c *cachingExtractor) Extract(ctx context.Context, path string) *model.ExtractionResult {
	hash, err := HashFile(path)
	if err != nil {
		return c.next.Extract(ctx, path)
	}

	data, err := c.cache.GetDataByHash(ctx, hash)
	if err != nil {
		c.logger.Warn("extraction cache lookup failed", zap.String("hash", hash), zap.Error(err))
	} else if data != "" {
		var cached model.ExtractionResult
		if err := json.Unmarshal([]byte(data), &cached); err == nil {
			c.logger.Debug("extraction served from cache", zap.String("hash", hash))
			return &cached
		}
		c.logger.Warn("discarding corrupted cache entry", zap.String("hash", hash))
	}

	result := c.next.Extract(ctx, path)

	// Ошибки (в том числе таймауты) не кэшируем: они могут быть временными
	if result.Error != "" {
		return result
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("failed to encode extraction result", zap.String("hash", hash), zap.Error(err))
		return result
	}
	if err := c.cache.SaveData(ctx, hash, string(encoded)); err != nil {
		c.logger.Warn("failed to store extraction result", zap.String("hash", hash), zap.Error(err))
	}
	return result
}
