package repositories

import (
	"context"
	"errors"
	"fmt"

	"count-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore implements Store on PostgreSQL
type PGStore struct {
	DB *pgxpool.Pool
	pgRepo
}

// pgRepo carries the query methods; bound either to the pool or to a transaction
type pgRepo struct {
	q querier
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{DB: db, pgRepo: pgRepo{q: db}}
}

func (s *PGStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgRepo{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PGStore) InSectorTx(ctx context.Context, sectorCountID int, fn func(tx Tx, sc *models.SectorCount) error) error {
	return s.InTx(ctx, func(tx Tx) error {
		repo := tx.(*pgRepo)
		sc, err := repo.lockSectorCount(ctx, sectorCountID)
		if err != nil {
			return err
		}
		return fn(tx, sc)
	})
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
