/**
 * @description
 * This file defines the `Repository` interface, the contract for all durable
 * data access the service needs: the bank-account directory, the user lookup
 * used for phone transfers, and the payment ledger. By defining an interface,
 * we decouple the business logic from the specific database implementation,
 * making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: For exact money arithmetic.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/domain"
)

// DuplicateProbe identifies a potential duplicate payment: same payer, same
// recipient phone, same amount and type, completed at or after Since.
type DuplicateProbe struct {
	UserID  uuid.UUID
	ToPhone string
	Amount  decimal.Decimal
	Type    domain.PaymentType
	Since   time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account directory methods
	CreateBankAccount(ctx context.Context, account *domain.BankAccount) error
	// FindUserBankAccount resolves an account only when it belongs to userID.
	FindUserBankAccount(ctx context.Context, accountID, userID uuid.UUID) (*domain.BankAccount, error)
	ListBankAccounts(ctx context.Context, userID uuid.UUID, bank *domain.Bank) ([]domain.BankAccount, error)
	// ListActiveAccountsByPriority orders by ascending priority with ties
	// broken by ascending internal id. The first row is the implicit debit
	// source for payments that don't name one.
	ListActiveAccountsByPriority(ctx context.Context, userID uuid.UUID) ([]domain.BankAccount, error)
	AttachBankAccount(ctx context.Context, accountID, userID uuid.UUID) error
	RenameBankAccount(ctx context.Context, accountID, userID uuid.UUID, name string) error
	SetBankAccountPriority(ctx context.Context, accountID, userID uuid.UUID, priority int) error
	// ToggleBankAccountVisibility flips the hidden flag and returns the new
	// hidden state.
	ToggleBankAccountVisibility(ctx context.Context, accountID, userID uuid.UUID) (bool, error)

	// User methods
	FindVerifiedUserByPhone(ctx context.Context, phone string) (*domain.User, error)

	// Payment ledger methods
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindRecentDuplicatePayment(ctx context.Context, probe DuplicateProbe) (*domain.Payment, error)
	// ListPayments returns the user's outgoing and incoming payments, newest
	// first.
	ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Payment, error)
	// ListCompletedPayments returns every completed payment the user sent or
	// received, for merging into spending analytics.
	ListCompletedPayments(ctx context.Context, userID uuid.UUID) ([]domain.Payment, error)
}
