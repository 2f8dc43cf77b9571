package types

import "time"

// ExtractionCacheEntry представляет запись в таблице verification_data_cache.
// Data хранит сериализованный результат извлечения для документа с хэшем DataHash.
type ExtractionCacheEntry struct {
	ID        int64     `json:"id" db:"id"`
	DataHash  string    `json:"data_hash" db:"data_hash"`
	Data      string    `json:"data" db:"data"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
