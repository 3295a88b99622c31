/**
 * @description
 * This file defines the core domain models for bank accounts and the data the
 * gateway client returns for them. Distinct types are used for durable
 * directory records, bank API results, and API response shapes so that raw
 * bank JSON never travels past the gateway boundary.
 *
 * @notes
 * - Amounts are `decimal.Decimal` values; floating point is never used for
 *   money anywhere in this service.
 * - `BankAccount.AccountID` is the opaque external id assigned by the bank;
 *   `BankAccount.ID` is the internal directory id.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAccountPriority is assigned to newly linked accounts. Priority 1 is
// the highest; the lowest-numbered active account is the implicit debit
// source for payments.
const DefaultAccountPriority = 999

// BankAccount is the durable directory record for one (user, bank, external
// account) tuple. It maps directly to the `bank_accounts` table.
type BankAccount struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Bank        Bank       `json:"bank_id"`
	AccountID   string     `json:"account_id"`
	AccountName string     `json:"account_name"`
	ConsentID   *string    `json:"consent_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsHidden    bool       `json:"is_hidden"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AccountSummary is the directory view returned to callers.
type AccountSummary struct {
	ID          uuid.UUID `json:"id"`
	AccountID   string    `json:"accountId"`
	AccountName string    `json:"accountName"`
	Bank        Bank      `json:"bankId"`
	BankName    string    `json:"bankName"`
	IsActive    bool      `json:"isActive"`
	IsHidden    bool      `json:"isHidden"`
	Priority    int       `json:"priority"`
}

// Balance is the typed balance result for one external account. Once cached
// it is the authoritative displayed balance and the target of compensating
// updates.
type Balance struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// BankTransaction is one transaction row as normalized from a bank response.
// Date is kept as the bank-reported RFC 3339 string: a malformed date must
// not drop the row from listings, even date-filtered ones.
type BankTransaction struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Direction   string          `json:"type"` // "debit" or "credit"
	MCCCode     string          `json:"mccCode,omitempty"`
}

// ParseDate parses the bank-reported transaction timestamp. The second
// return is false for malformed dates.
func (t BankTransaction) ParseDate() (time.Time, bool) {
	if t.Date == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, t.Date); err == nil {
		return ts, true
	}
	// Banks in the sandbox omit the zone on occasion.
	if ts, err := time.Parse("2006-01-02T15:04:05", t.Date); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

// TaggedTransaction is a bank transaction annotated with its owning account
// metadata, as produced by cross-account aggregation.
type TaggedTransaction struct {
	BankTransaction
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	Bank        Bank   `json:"bankId"`
	BankName    string `json:"bankName"`
}

// ExternalAccount is an account row as listed by a bank.
type ExternalAccount struct {
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	Currency    string `json:"currency"`
	AccountType string `json:"accountType"`
}

// Product is one entry of a bank's product catalog.
type Product struct {
	ProductID    string           `json:"productId"`
	ProductType  string           `json:"productType"`
	ProductName  string           `json:"productName"`
	Description  string           `json:"description"`
	InterestRate *decimal.Decimal `json:"interestRate,omitempty"`
	MinAmount    *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount    *decimal.Decimal `json:"maxAmount,omitempty"`
}

// CurrencyTotal is a per-currency sum across accounts.
type CurrencyTotal struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// AccountBalanceItem pairs directory metadata with the account's balance in
// an aggregate listing.
type AccountBalanceItem struct {
	AccountID   string  `json:"accountId"`
	AccountName string  `json:"accountName"`
	Bank        Bank    `json:"bankId"`
	BankName    string  `json:"bankName"`
	Balance     Balance `json:"balance"`
}

// AggregateBalances is the merged multi-account balance view.
type AggregateBalances struct {
	Accounts []AccountBalanceItem `json:"accounts"`
	Totals   []CurrencyTotal      `json:"total"`
	Count    int                  `json:"count"`
}

// Pagination describes the slice of a larger result set that was returned.
type Pagination struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// TransactionPage is one page of the merged cross-account transaction list.
type TransactionPage struct {
	Transactions []TaggedTransaction `json:"transactions"`
	Pagination   Pagination          `json:"pagination"`
}

// StatementPeriod echoes the requested date range on statements.
type StatementPeriod struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// StatementTotals carries the derived income/expense figures for a statement.
type StatementTotals struct {
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpenses    decimal.Decimal `json:"totalExpenses"`
	NetAmount        decimal.Decimal `json:"netAmount"`
	TransactionCount int             `json:"transactionCount"`
}

// AccountStatement is the per-account statement: balance, filtered
// transactions and derived totals.
type AccountStatement struct {
	Account struct {
		AccountID   string          `json:"accountId"`
		AccountName string          `json:"accountName"`
		Bank        Bank            `json:"bankId"`
		Balance     decimal.Decimal `json:"balance"`
		Currency    string          `json:"currency"`
	} `json:"account"`
	Period     StatementPeriod   `json:"period"`
	Statistics StatementTotals   `json:"statistics"`
	Rows       []BankTransaction `json:"transactions"`
}

// CombinedStatementAccount summarizes one account inside the combined
// all-accounts statement.
type CombinedStatementAccount struct {
	AccountID        string          `json:"accountId"`
	AccountName      string          `json:"accountName"`
	Balance          decimal.Decimal `json:"balance"`
	Income           decimal.Decimal `json:"income"`
	Expenses         decimal.Decimal `json:"expenses"`
	TransactionCount int             `json:"transactionCount"`
}

// CombinedStatement is the all-accounts statement.
type CombinedStatement struct {
	Summary struct {
		TotalBalance      decimal.Decimal `json:"totalBalance"`
		TotalIncome       decimal.Decimal `json:"totalIncome"`
		TotalExpenses     decimal.Decimal `json:"totalExpenses"`
		NetAmount         decimal.Decimal `json:"netAmount"`
		AccountsCount     int             `json:"accountsCount"`
		TotalTransactions int             `json:"totalTransactions"`
	} `json:"summary"`
	Period   StatementPeriod            `json:"period"`
	Accounts []CombinedStatementAccount `json:"accounts"`
	Rows     []TaggedTransaction        `json:"transactions"`
}

// SyncResult reports the outcome of a forced cache refresh for one account.
type SyncResult struct {
	Balance           Balance   `json:"balance"`
	TransactionsCount int       `json:"transactionsCount"`
	SyncedAt          time.Time `json:"syncedAt"`
}
