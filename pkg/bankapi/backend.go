/**
 * @description
 * This package provides the per-bank gateway client. It encapsulates token
 * acquisition, consent grants and the authenticated data calls against each
 * external bank's HTTP API, and normalizes every response into typed results
 * at this boundary so that no raw bank JSON travels downstream.
 *
 * The transport is a strategy: LiveBackend speaks HTTP to the real bank,
 * SimulatedBackend synthesizes structurally valid data. The Client composes
 * a primary backend with an optional fallback backend selected once at
 * startup; in permissive deployments a live failure degrades to simulated
 * data instead of surfacing to the caller.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: Typed bank operation results.
 */
package bankapi

import (
	"context"
	"errors"

	"github.com/bankhub/aggregation-service/internal/domain"
)

// ErrBankUnavailable wraps any transport or bank-side failure that could not
// be masked by a fallback backend. Surfaces as a 5xx-class error.
var ErrBankUnavailable = errors.New("bank unavailable")

// ConsentRequest describes the permission set asked of a bank. The
// permission set is fixed at creation; a consent never widens.
type ConsentRequest struct {
	ClientID    string
	Permissions []string
}

// ConsentResult is a bank's answer to a consent request. ConsentID may be
// empty when the bank reports the consent as pending approval.
type ConsentResult struct {
	ConsentID string
	Status    string
	RequestID string
}

// Standard permission names understood by the sandbox banks.
const (
	PermReadAccounts     = "ReadAccountsDetail"
	PermReadBalances     = "ReadBalances"
	PermReadTransactions = "ReadTransactionsDetail"
)

// Backend is the transport strategy for one set of banks.
type Backend interface {
	RequestToken(ctx context.Context, bank domain.Bank) (string, error)
	RequestConsent(ctx context.Context, bank domain.Bank, token string, req ConsentRequest) (ConsentResult, error)
	FetchAccounts(ctx context.Context, bank domain.Bank, token, consentID, clientID string) ([]domain.ExternalAccount, error)
	FetchBalance(ctx context.Context, bank domain.Bank, token, consentID, accountID string) (domain.Balance, error)
	FetchTransactions(ctx context.Context, bank domain.Bank, token, consentID, accountID string, limit int) ([]domain.BankTransaction, error)
	FetchProducts(ctx context.Context, bank domain.Bank, token, productType string) ([]domain.Product, error)
}
