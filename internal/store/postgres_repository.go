/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for the bank-account directory, users, and the internal payment ledger.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bankhub/aggregation-service/internal/domain"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAccountNotFound  = errors.New("bank account not found")
	ErrAccountOwned     = errors.New("bank account already attached to another user")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("duplicate payment")
)

const bankAccountColumns = `id, user_id, bank_id, account_id, account_name, consent_id, is_active, is_hidden, priority, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanBankAccount(row pgx.Row) (*domain.BankAccount, error) {
	var account domain.BankAccount
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Bank,
		&account.AccountID,
		&account.AccountName,
		&account.ConsentID,
		&account.IsActive,
		&account.IsHidden,
		&account.Priority,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateBankAccount inserts a new bank account row and fills in the generated id.
func (r *PostgresRepository) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	query := `
		INSERT INTO bank_accounts (user_id, bank_id, account_id, account_name, consent_id, is_active, is_hidden, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		account.UserID,
		account.Bank,
		account.AccountID,
		account.AccountName,
		account.ConsentID,
		account.IsActive,
		account.IsHidden,
		account.Priority,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
}

// FindUserBankAccount retrieves a bank account only if it belongs to the given user.
func (r *PostgresRepository) FindUserBankAccount(ctx context.Context, accountID, userID uuid.UUID) (*domain.BankAccount, error) {
	query := `SELECT ` + bankAccountColumns + ` FROM bank_accounts WHERE id = $1 AND user_id = $2`
	return scanBankAccount(r.db.QueryRow(ctx, query, accountID, userID))
}

// ListBankAccounts returns the user's accounts, optionally filtered by bank,
// ordered by priority then id for a stable listing.
func (r *PostgresRepository) ListBankAccounts(ctx context.Context, userID uuid.UUID, bank *domain.Bank) ([]domain.BankAccount, error) {
	query := `SELECT ` + bankAccountColumns + ` FROM bank_accounts WHERE user_id = $1`
	args := []any{userID}
	if bank != nil {
		query += ` AND bank_id = $2`
		args = append(args, *bank)
	}
	query += ` ORDER BY priority ASC, id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBankAccounts(rows)
}

// ListActiveAccountsByPriority returns the user's active accounts ordered by
// ascending priority, ties broken by ascending id. The first row is the
// default source for payments that don't name an account.
func (r *PostgresRepository) ListActiveAccountsByPriority(ctx context.Context, userID uuid.UUID) ([]domain.BankAccount, error) {
	query := `
		SELECT ` + bankAccountColumns + `
		FROM bank_accounts
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY priority ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBankAccounts(rows)
}

func collectBankAccounts(rows pgx.Rows) ([]domain.BankAccount, error) {
	var accounts []domain.BankAccount
	for rows.Next() {
		account, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// AttachBankAccount claims an unowned account for the user. Attaching an
// account that already belongs to someone else returns ErrAccountOwned.
func (r *PostgresRepository) AttachBankAccount(ctx context.Context, accountID, userID uuid.UUID) error {
	query := `
		UPDATE bank_accounts
		SET user_id = $2, updated_at = NOW()
		WHERE id = $1 AND (user_id IS NULL OR user_id = $2)
	`
	result, err := r.db.Exec(ctx, query, accountID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Distinguish "missing" from "owned by someone else".
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bank_accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrAccountOwned
		}
		return ErrAccountNotFound
	}
	return nil
}

// RenameBankAccount sets a user-facing display name on the user's account.
func (r *PostgresRepository) RenameBankAccount(ctx context.Context, accountID, userID uuid.UUID, name string) error {
	query := `UPDATE bank_accounts SET account_name = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`
	result, err := r.db.Exec(ctx, query, accountID, userID, name)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetBankAccountPriority updates the payment source ranking of the user's account.
func (r *PostgresRepository) SetBankAccountPriority(ctx context.Context, accountID, userID uuid.UUID, priority int) error {
	query := `UPDATE bank_accounts SET priority = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`
	result, err := r.db.Exec(ctx, query, accountID, userID, priority)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ToggleBankAccountVisibility flips the hidden flag and reports the new state.
func (r *PostgresRepository) ToggleBankAccountVisibility(ctx context.Context, accountID, userID uuid.UUID) (bool, error) {
	var hidden bool
	query := `
		UPDATE bank_accounts
		SET is_hidden = NOT is_hidden, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING is_hidden
	`
	err := r.db.QueryRow(ctx, query, accountID, userID).Scan(&hidden)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrAccountNotFound
		}
		return false, err
	}
	return hidden, nil
}

// FindVerifiedUserByPhone resolves a transfer recipient by phone number.
// Only verified users are eligible to receive transfers.
func (r *PostgresRepository) FindVerifiedUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, phone, name, verified FROM users WHERE phone = $1 AND verified = TRUE`
	err := r.db.QueryRow(ctx, query, phone).Scan(&user.ID, &user.Phone, &user.Name, &user.Verified)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

const paymentColumns = `id, user_id, payment_type, amount, currency, from_account_id, from_account_name, to_user_id, to_phone, to_account, to_name, description, status, created_at, completed_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var payment domain.Payment
	err := row.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.Type,
		&payment.Amount,
		&payment.Currency,
		&payment.FromAccountID,
		&payment.FromAccountName,
		&payment.ToUserID,
		&payment.ToPhone,
		&payment.ToAccount,
		&payment.ToName,
		&payment.Description,
		&payment.Status,
		&payment.CreatedAt,
		&payment.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// CreatePayment inserts a payment row and fills in the generated id.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (user_id, payment_type, amount, currency, from_account_id, from_account_name, to_user_id, to_phone, to_account, to_name, description, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		payment.UserID,
		payment.Type,
		payment.Amount,
		payment.Currency,
		payment.FromAccountID,
		payment.FromAccountName,
		payment.ToUserID,
		payment.ToPhone,
		payment.ToAccount,
		payment.ToName,
		payment.Description,
		payment.Status,
		payment.CompletedAt,
	).Scan(&payment.ID, &payment.CreatedAt)
}

// FindRecentDuplicatePayment looks for a completed payment matching the probe
// within its time window. Returns ErrPaymentNotFound when there is none, which
// is the happy path for duplicate screening.
func (r *PostgresRepository) FindRecentDuplicatePayment(ctx context.Context, probe DuplicateProbe) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1
		  AND to_phone = $2
		  AND amount = $3
		  AND payment_type = $4
		  AND status = 'completed'
		  AND completed_at >= $5
		ORDER BY completed_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, probe.UserID, probe.ToPhone, probe.Amount, probe.Type, probe.Since))
}

// ListPayments returns payments the user sent or received, newest first.
func (r *PostgresRepository) ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPayments(rows)
}

// ListCompletedPayments returns every completed payment the user sent or received.
func (r *PostgresRepository) ListCompletedPayments(ctx context.Context, userID uuid.UUID) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE (user_id = $1 OR to_user_id = $1) AND status = 'completed'
		ORDER BY completed_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}
