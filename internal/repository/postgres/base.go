package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

const setIdentityQuery = `SELECT set_config('app.user_id', $1, true), set_config('app.user_role', $2, true)`

// WithIdentity runs fn in a transaction whose session settings carry the
// caller identity. The row-level policies read app.user_id and app.user_role,
// and both settings are scoped to the transaction.
func (r *BaseRepository) WithIdentity(ctx context.Context, identity *model.Identity, fn func(*sqlx.Tx) error) error {
	if !identity.Valid() {
		return apperrors.NewUnauthenticated("")
	}
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, setIdentityQuery, identity.UserID.String(), string(identity.Role)); err != nil {
			return fmt.Errorf("failed to set identity: %w", err)
		}
		return fn(tx)
	})
}

func (r *BaseRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// mapError translates driver errors into the application taxonomy.
// sql.ErrNoRows becomes repository.ErrNotFound; AppErrors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "insufficient_privilege":
			return apperrors.NewForbidden(pqErr.Message)
		case "foreign_key_violation":
			return apperrors.NewValidation("patient does not exist")
		case "check_violation", "not_null_violation":
			return apperrors.NewValidation(pqErr.Message)
		}
		return apperrors.NewStoreFailure(errors.New(pqErr.Message))
	}
	return apperrors.NewStoreFailure(err)
}
