package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX - подмножество *pgxpool.Pool, которое нужно репозиториям
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrConcurrentUpdate возвращается, когда запись успела сменить статус между чтением и записью
var ErrConcurrentUpdate = errors.New("verification was modified concurrently")
