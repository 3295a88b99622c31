/**
 * @description
 * This file contains the core business logic for the aggregation-service. The
 * `Service` struct orchestrates the multi-bank account directory and the
 * cross-bank aggregation views, coordinating between the database repository,
 * the bank gateway client, the aggregation cache, and the message broker.
 *
 * Key features:
 * - Account directory operations: link, attach, rename, prioritize, hide.
 * - Fan-out aggregation: merged balances, merged transaction history with
 *   date filtering and pagination, per-account and combined statements.
 * - Partial failure tolerance: one unreachable bank never empties the
 *   aggregate view, it only removes that bank's rows.
 *
 * @dependencies
 * - context, errors, fmt, log, sort, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain, internal/store, internal/cache: Models and data access.
 * - pkg/bankapi, pkg/rabbitmq: External service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/internal/store"
	"github.com/bankhub/aggregation-service/pkg/bankapi"
	"github.com/bankhub/aggregation-service/pkg/rabbitmq"
)

const (
	// DefaultTransactionPageSize bounds the merged history page when the
	// caller does not pass a limit.
	DefaultTransactionPageSize = 50
	// MaxTransactionPageSize is the hard ceiling on one history page.
	MaxTransactionPageSize = 200
	// CombinedStatementRowCap bounds the row section of the all-accounts
	// statement; per-account summaries are still computed over everything.
	CombinedStatementRowCap = 100
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
	ErrNoActiveAccounts  = errors.New("no active bank accounts")
	ErrNoBankAccounts    = errors.New("bank returned no accounts")
)

// Service provides the core business logic for account aggregation, internal
// payments and spending analytics.
type Service struct {
	repo          store.Repository
	gateway       *bankapi.Client
	data          *AccountDataCache
	eventProducer rabbitmq.Publisher
	permissive    bool
	premiumPrice  decimal.Decimal
	now           func() time.Time
}

// NewService creates a new aggregation service instance. In permissive mode
// a failed funds check lets a payment proceed instead of rejecting it.
func NewService(repo store.Repository, gateway *bankapi.Client, data *AccountDataCache, producer rabbitmq.Publisher, permissive bool, premiumPrice decimal.Decimal) *Service {
	if premiumPrice.IsZero() {
		premiumPrice = defaultPremiumPrice
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		data:          data,
		eventProducer: producer,
		permissive:    permissive,
		premiumPrice:  premiumPrice,
		now:           time.Now,
	}
}

// GetUserAccounts lists the user's linked accounts, optionally filtered by bank.
func (s *Service) GetUserAccounts(ctx context.Context, userID uuid.UUID, bank *domain.Bank) ([]domain.AccountSummary, error) {
	accounts, err := s.repo.ListBankAccounts(ctx, userID, bank)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	summaries := make([]domain.AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, summarize(account))
	}
	return summaries, nil
}

func summarize(account domain.BankAccount) domain.AccountSummary {
	return domain.AccountSummary{
		ID:          account.ID,
		AccountID:   account.AccountID,
		AccountName: account.AccountName,
		Bank:        account.Bank,
		BankName:    account.Bank.Name(),
		IsActive:    account.IsActive,
		IsHidden:    account.IsHidden,
		Priority:    account.Priority,
	}
}

// CreateAccount links the user's first account at the given bank: it obtains
// a consent, lists the bank's accounts, and records the first one in the
// directory. Pending consents are used as-is; the bank rejects data calls
// until the consent is approved, which surfaces as a gateway error.
func (s *Service) CreateAccount(ctx context.Context, userID uuid.UUID, bank domain.Bank) (*domain.AccountSummary, error) {
	uid := userID.String()
	consentID, err := s.gateway.CreateConsent(ctx, uid, bank, bankapi.ReadPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create consent with %s: %w", bank.Name(), err)
	}

	external, err := s.gateway.Accounts(ctx, uid, bank)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts at %s: %w", bank.Name(), err)
	}
	if len(external) == 0 {
		return nil, ErrNoBankAccounts
	}

	first := external[0]
	name := first.AccountName
	if name == "" {
		name = fmt.Sprintf("%s account", bank.Name())
	}
	account := &domain.BankAccount{
		UserID:      &userID,
		Bank:        bank,
		AccountID:   first.AccountID,
		AccountName: name,
		ConsentID:   &consentID,
		IsActive:    true,
		Priority:    domain.DefaultAccountPriority,
	}
	if err := s.repo.CreateBankAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to record bank account: %w", err)
	}
	log.Printf("CreateAccount: linked %s account %s for user %s", bank.Name(), first.AccountID, uid)
	summary := summarize(*account)
	return &summary, nil
}

// AttachAccount claims an existing unowned directory entry for the user.
func (s *Service) AttachAccount(ctx context.Context, accountID, userID uuid.UUID) (*domain.AccountSummary, error) {
	if err := s.repo.AttachBankAccount(ctx, accountID, userID); err != nil {
		return nil, err
	}
	account, err := s.repo.FindUserBankAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	summary := summarize(*account)
	return &summary, nil
}

// RenameAccount sets the display name of the user's account.
func (s *Service) RenameAccount(ctx context.Context, accountID, userID uuid.UUID, name string) error {
	return s.repo.RenameBankAccount(ctx, accountID, userID, name)
}

// SetAccountPriority updates the payment source ranking of the user's account.
func (s *Service) SetAccountPriority(ctx context.Context, accountID, userID uuid.UUID, priority int) error {
	return s.repo.SetBankAccountPriority(ctx, accountID, userID, priority)
}

// ToggleAccountVisibility flips the hidden flag and reports the new state.
func (s *Service) ToggleAccountVisibility(ctx context.Context, accountID, userID uuid.UUID) (bool, error) {
	return s.repo.ToggleBankAccountVisibility(ctx, accountID, userID)
}

// GetBalance returns the (possibly cached) balance for one of the user's
// accounts.
func (s *Service) GetBalance(ctx context.Context, userID, accountID uuid.UUID) (domain.Balance, error) {
	account, err := s.repo.FindUserBankAccount(ctx, accountID, userID)
	if err != nil {
		return domain.Balance{}, err
	}
	return s.data.Balance(ctx, userID.String(), account.Bank, account.AccountID)
}

// GetTransactions returns the (possibly cached) transaction list for one of
// the user's accounts.
func (s *Service) GetTransactions(ctx context.Context, userID, accountID uuid.UUID) ([]domain.BankTransaction, error) {
	account, err := s.repo.FindUserBankAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	return s.data.Transactions(ctx, userID.String(), account.Bank, account.AccountID)
}

// visibleActiveAccounts lists the accounts aggregation fans out over: active
// and not hidden, in priority order, optionally narrowed to one bank.
func (s *Service) visibleActiveAccounts(ctx context.Context, userID uuid.UUID, bank *domain.Bank) ([]domain.BankAccount, error) {
	accounts, err := s.repo.ListActiveAccountsByPriority(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	visible := accounts[:0]
	for _, account := range accounts {
		if account.IsHidden {
			continue
		}
		if bank != nil && account.Bank != *bank {
			continue
		}
		visible = append(visible, account)
	}
	return visible, nil
}

// PriorityAccounts lists the user's active accounts in debit-priority order:
// the first entry is the implicit source for payments that don't name one.
func (s *Service) PriorityAccounts(ctx context.Context, userID uuid.UUID) ([]domain.AccountSummary, error) {
	accounts, err := s.repo.ListActiveAccountsByPriority(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	summaries := make([]domain.AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, summarize(account))
	}
	return summaries, nil
}

// AllBalances fans out a balance read to every visible account and merges the
// results. Accounts whose bank is unreachable are skipped, not fatal.
func (s *Service) AllBalances(ctx context.Context, userID uuid.UUID, bank *domain.Bank) (*domain.AggregateBalances, error) {
	accounts, err := s.visibleActiveAccounts(ctx, userID, bank)
	if err != nil {
		return nil, err
	}
	uid := userID.String()

	items := make([]*domain.AccountBalanceItem, len(accounts))
	var wg sync.WaitGroup
	for i, account := range accounts {
		wg.Add(1)
		go func(i int, account domain.BankAccount) {
			defer wg.Done()
			balance, err := s.data.Balance(ctx, uid, account.Bank, account.AccountID)
			if err != nil {
				log.Printf("AllBalances: skipping %s account %s: %v", account.Bank.Name(), account.AccountID, err)
				return
			}
			items[i] = &domain.AccountBalanceItem{
				AccountID:   account.AccountID,
				AccountName: account.AccountName,
				Bank:        account.Bank,
				BankName:    account.Bank.Name(),
				Balance:     balance,
			}
		}(i, account)
	}
	wg.Wait()

	result := &domain.AggregateBalances{Accounts: []domain.AccountBalanceItem{}}
	totals := make(map[string]decimal.Decimal)
	var currencies []string
	for _, item := range items {
		if item == nil {
			continue
		}
		result.Accounts = append(result.Accounts, *item)
		if _, seen := totals[item.Balance.Currency]; !seen {
			currencies = append(currencies, item.Balance.Currency)
		}
		totals[item.Balance.Currency] = totals[item.Balance.Currency].Add(item.Balance.Amount)
	}
	for _, currency := range currencies {
		result.Totals = append(result.Totals, domain.CurrencyTotal{Currency: currency, Amount: totals[currency]})
	}
	result.Count = len(result.Accounts)
	return result, nil
}

// fanOutTransactions reads every visible account's transactions and tags them
// with account metadata. Unreachable banks contribute nothing.
func (s *Service) fanOutTransactions(ctx context.Context, userID uuid.UUID, accounts []domain.BankAccount) []domain.TaggedTransaction {
	uid := userID.String()
	perAccount := make([][]domain.TaggedTransaction, len(accounts))
	var wg sync.WaitGroup
	for i, account := range accounts {
		wg.Add(1)
		go func(i int, account domain.BankAccount) {
			defer wg.Done()
			transactions, err := s.data.Transactions(ctx, uid, account.Bank, account.AccountID)
			if err != nil {
				log.Printf("fanOutTransactions: skipping %s account %s: %v", account.Bank.Name(), account.AccountID, err)
				return
			}
			tagged := make([]domain.TaggedTransaction, 0, len(transactions))
			for _, txn := range transactions {
				tagged = append(tagged, domain.TaggedTransaction{
					BankTransaction: txn,
					AccountID:       account.AccountID,
					AccountName:     account.AccountName,
					Bank:            account.Bank,
					BankName:        account.Bank.Name(),
				})
			}
			perAccount[i] = tagged
		}(i, account)
	}
	wg.Wait()

	var merged []domain.TaggedTransaction
	for _, tagged := range perAccount {
		merged = append(merged, tagged...)
	}
	return merged
}

// filterTransactionsByDate keeps rows inside [from, to]. A row with a
// malformed date passes every filter: the bound cannot exclude what it cannot
// read. Rows with no date at all are dropped when a bound is set.
func filterTransactionsByDate(transactions []domain.TaggedTransaction, from, to *time.Time) []domain.TaggedTransaction {
	if from == nil && to == nil {
		return transactions
	}
	filtered := transactions[:0]
	for _, txn := range transactions {
		if txn.Date == "" {
			continue
		}
		ts, ok := txn.ParseDate()
		if !ok {
			log.Printf("filterTransactionsByDate: unparseable date %q on transaction %s, keeping row", txn.Date, txn.ID)
			filtered = append(filtered, txn)
			continue
		}
		if from != nil && ts.Before(*from) {
			continue
		}
		if to != nil && ts.After(*to) {
			continue
		}
		filtered = append(filtered, txn)
	}
	return filtered
}

// sortTransactionsDesc orders newest first. The sort is stable so rows with
// equal or unparseable dates keep their account order; unparseable dates sort
// last.
func sortTransactionsDesc(transactions []domain.TaggedTransaction) {
	sort.SliceStable(transactions, func(i, j int) bool {
		ti, okI := transactions[i].ParseDate()
		tj, okJ := transactions[j].ParseDate()
		if okI != okJ {
			return okI
		}
		if !okI {
			return false
		}
		return ti.After(tj)
	})
}

// AllTransactions returns one page of the merged cross-account history,
// newest first, optionally narrowed to one bank and bounded by [from, to].
func (s *Service) AllTransactions(ctx context.Context, userID uuid.UUID, bank *domain.Bank, from, to *time.Time, offset, limit int) (*domain.TransactionPage, error) {
	if limit <= 0 {
		limit = DefaultTransactionPageSize
	}
	if limit > MaxTransactionPageSize {
		limit = MaxTransactionPageSize
	}
	if offset < 0 {
		offset = 0
	}

	accounts, err := s.visibleActiveAccounts(ctx, userID, bank)
	if err != nil {
		return nil, err
	}
	merged := s.fanOutTransactions(ctx, userID, accounts)
	merged = filterTransactionsByDate(merged, from, to)
	sortTransactionsDesc(merged)

	total := len(merged)
	page := []domain.TaggedTransaction{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = merged[offset:end]
	}
	return &domain.TransactionPage{
		Transactions: page,
		Pagination: domain.Pagination{
			Offset:  offset,
			Limit:   limit,
			Total:   total,
			HasMore: offset+len(page) < total,
		},
	}, nil
}

// statementBounds parses the YYYY-MM-DD statement range. The end bound is
// inclusive of the whole day.
func statementBounds(startDate, endDate string) (from, to *time.Time, err error) {
	if startDate != "" {
		ts, parseErr := time.Parse("2006-01-02", startDate)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("invalid startDate %q: %w", startDate, parseErr)
		}
		from = &ts
	}
	if endDate != "" {
		ts, parseErr := time.Parse("2006-01-02", endDate)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("invalid endDate %q: %w", endDate, parseErr)
		}
		end := ts.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	return from, to, nil
}

func statementTotals(transactions []domain.BankTransaction) domain.StatementTotals {
	totals := domain.StatementTotals{TransactionCount: len(transactions)}
	for _, txn := range transactions {
		// Totals are magnitudes. Banks report debits with either sign.
		if txn.Direction == "credit" {
			totals.TotalIncome = totals.TotalIncome.Add(txn.Amount.Abs())
		} else {
			totals.TotalExpenses = totals.TotalExpenses.Add(txn.Amount.Abs())
		}
	}
	totals.NetAmount = totals.TotalIncome.Sub(totals.TotalExpenses)
	return totals
}

// AccountStatement builds the per-account statement: current balance, the
// transactions inside the period, and derived totals.
func (s *Service) AccountStatement(ctx context.Context, userID, accountID uuid.UUID, startDate, endDate string) (*domain.AccountStatement, error) {
	from, to, err := statementBounds(startDate, endDate)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindUserBankAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	uid := userID.String()

	balance, err := s.data.Balance(ctx, uid, account.Bank, account.AccountID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.data.Transactions(ctx, uid, account.Bank, account.AccountID)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.BankTransaction, 0, len(transactions))
	for _, txn := range transactions {
		if from != nil || to != nil {
			ts, ok := txn.ParseDate()
			if !ok {
				continue
			}
			if from != nil && ts.Before(*from) {
				continue
			}
			if to != nil && ts.After(*to) {
				continue
			}
		}
		rows = append(rows, txn)
	}

	statement := &domain.AccountStatement{
		Period:     domain.StatementPeriod{StartDate: startDate, EndDate: endDate},
		Statistics: statementTotals(rows),
		Rows:       rows,
	}
	statement.Account.AccountID = account.AccountID
	statement.Account.AccountName = account.AccountName
	statement.Account.Bank = account.Bank
	statement.Account.Balance = balance.Amount
	statement.Account.Currency = balance.Currency
	return statement, nil
}

// CombinedStatement builds the all-accounts statement. Per-account summaries
// cover every row in the period; the merged row section is capped.
func (s *Service) CombinedStatement(ctx context.Context, userID uuid.UUID, startDate, endDate string) (*domain.CombinedStatement, error) {
	from, to, err := statementBounds(startDate, endDate)
	if err != nil {
		return nil, err
	}
	accounts, err := s.visibleActiveAccounts(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	uid := userID.String()

	statement := &domain.CombinedStatement{
		Period:   domain.StatementPeriod{StartDate: startDate, EndDate: endDate},
		Accounts: []domain.CombinedStatementAccount{},
		Rows:     []domain.TaggedTransaction{},
	}

	var allRows []domain.TaggedTransaction
	for _, account := range accounts {
		balance, err := s.data.Balance(ctx, uid, account.Bank, account.AccountID)
		if err != nil {
			log.Printf("CombinedStatement: skipping %s account %s: %v", account.Bank.Name(), account.AccountID, err)
			continue
		}
		transactions, err := s.data.Transactions(ctx, uid, account.Bank, account.AccountID)
		if err != nil {
			log.Printf("CombinedStatement: skipping transactions of %s account %s: %v", account.Bank.Name(), account.AccountID, err)
			transactions = nil
		}

		summary := domain.CombinedStatementAccount{
			AccountID:   account.AccountID,
			AccountName: account.AccountName,
			Balance:     balance.Amount,
		}
		for _, txn := range transactions {
			if from != nil || to != nil {
				ts, ok := txn.ParseDate()
				if !ok {
					continue
				}
				if from != nil && ts.Before(*from) {
					continue
				}
				if to != nil && ts.After(*to) {
					continue
				}
			}
			summary.TransactionCount++
			if txn.Direction == "credit" {
				summary.Income = summary.Income.Add(txn.Amount)
			} else {
				summary.Expenses = summary.Expenses.Add(txn.Amount)
			}
			allRows = append(allRows, domain.TaggedTransaction{
				BankTransaction: txn,
				AccountID:       account.AccountID,
				AccountName:     account.AccountName,
				Bank:            account.Bank,
				BankName:        account.Bank.Name(),
			})
		}

		statement.Accounts = append(statement.Accounts, summary)
		statement.Summary.TotalBalance = statement.Summary.TotalBalance.Add(balance.Amount)
		statement.Summary.TotalIncome = statement.Summary.TotalIncome.Add(summary.Income)
		statement.Summary.TotalExpenses = statement.Summary.TotalExpenses.Add(summary.Expenses)
		statement.Summary.TotalTransactions += summary.TransactionCount
	}

	statement.Summary.NetAmount = statement.Summary.TotalIncome.Sub(statement.Summary.TotalExpenses)
	statement.Summary.AccountsCount = len(statement.Accounts)

	sortTransactionsDesc(allRows)
	if len(allRows) > CombinedStatementRowCap {
		allRows = allRows[:CombinedStatementRowCap]
	}
	statement.Rows = allRows
	return statement, nil
}

// ForceSync refetches balance and transactions from the bank for one account,
// rewriting the cache.
func (s *Service) ForceSync(ctx context.Context, userID, accountID uuid.UUID) (*domain.SyncResult, error) {
	account, err := s.repo.FindUserBankAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	balance, transactions, err := s.data.Refresh(ctx, userID.String(), account.Bank, account.AccountID)
	if err != nil {
		return nil, err
	}
	return &domain.SyncResult{
		Balance:           balance,
		TransactionsCount: len(transactions),
		SyncedAt:          s.now().UTC(),
	}, nil
}

// RequestConsent obtains (or reuses) a consent grant for the user at a bank.
func (s *Service) RequestConsent(ctx context.Context, userID uuid.UUID, bank domain.Bank) (string, error) {
	return s.gateway.CreateConsent(ctx, userID.String(), bank, bankapi.ReadPermissions)
}

// Products returns a bank's product catalog, optionally filtered by type.
func (s *Service) Products(ctx context.Context, userID uuid.UUID, bank domain.Bank, productType string) ([]domain.Product, error) {
	return s.gateway.Products(ctx, userID.String(), bank, productType)
}
