package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/storage"
)

const accountColumns = `id, name, email, username, phone, password_hash, role,
		email_verified, is_verified, created_at, updated_at`

// SaveAccount создаёт новую учётную запись.
func (s *Storage) SaveAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.postgres.SaveAccount"

	query := `
		INSERT INTO accounts(` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Exec(ctx, query,
		acc.ID,
		acc.Name,
		acc.Email,
		acc.Username,
		acc.Phone,
		acc.PasswordHash,
		acc.Role,
		acc.EmailVerified,
		acc.IsVerified,
		acc.CreatedAt,
		acc.UpdatedAt,
	)

	if err != nil {
		if dup := duplicateFromPg(err); dup != nil {
			return fmt.Errorf("%s: %w", op, dup)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// AccountByEmail находит учётную запись по email (без учёта регистра).
func (s *Storage) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.accountBy(ctx, "storage.postgres.AccountByEmail", "email", email)
}

// AccountByUsername находит учётную запись по username (без учёта регистра).
func (s *Storage) AccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.accountBy(ctx, "storage.postgres.AccountByUsername", "username", username)
}

// AccountByPhone находит учётную запись по телефону.
func (s *Storage) AccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	return s.accountBy(ctx, "storage.postgres.AccountByPhone", "phone", phone)
}

// AccountByID находит учётную запись по ID.
func (s *Storage) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.accountBy(ctx, "storage.postgres.AccountByID", "id", id)
}

// accountBy выполняет выборку по одной колонке; column - только константы из этого файла.
func (s *Storage) accountBy(ctx context.Context, op, column string, value any) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1`

	acc, err := scanAccount(s.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

// UpdatePasswordHash меняет хэш пароля.
func (s *Storage) UpdatePasswordHash(ctx context.Context, email, hash string, now time.Time) error {
	const op = "storage.postgres.UpdatePasswordHash"

	query := `
		UPDATE accounts
		SET password_hash = $2, updated_at = $3
		WHERE email = $1
	`

	tag, err := s.db.Exec(ctx, query, email, hash, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// MarkVerified помечает e-mail учётной записи подтверждённым.
func (s *Storage) MarkVerified(ctx context.Context, email string, now time.Time) error {
	const op = "storage.postgres.MarkVerified"

	query := `
		UPDATE accounts
		SET email_verified = TRUE, is_verified = TRUE, updated_at = $2
		WHERE email = $1
	`

	tag, err := s.db.Exec(ctx, query, email, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpdateProfile обновляет заданные поля профиля; nil-поля сохраняют текущее значение.
func (s *Storage) UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate, now time.Time) (*models.Account, error) {
	const op = "storage.postgres.UpdateProfile"

	query := `
		UPDATE accounts
		SET name       = COALESCE($2, name),
		    username   = COALESCE($3, username),
		    phone      = COALESCE($4, phone),
		    updated_at = $5
		WHERE id = $1
		RETURNING ` + accountColumns

	acc, err := scanAccount(s.db.QueryRow(ctx, query, id, upd.Name, upd.Username, upd.Phone, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		if dup := duplicateFromPg(err); dup != nil {
			return nil, fmt.Errorf("%s: %w", op, dup)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(
		&acc.ID,
		&acc.Name,
		&acc.Email,
		&acc.Username,
		&acc.Phone,
		&acc.PasswordHash,
		&acc.Role,
		&acc.EmailVerified,
		&acc.IsVerified,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &acc, nil
}
