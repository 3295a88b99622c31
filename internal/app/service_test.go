package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/cache"
	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/internal/store"
	"github.com/bankhub/aggregation-service/pkg/bankapi"
)

// stubRepository backs service tests without a database. Methods not
// overridden panic via the embedded nil interface.
type stubRepository struct {
	store.Repository

	accounts  map[uuid.UUID][]domain.BankAccount
	usersByPhone map[string]domain.User
	duplicate *domain.Payment
	created   []*domain.Payment
	payments  []domain.Payment
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		accounts:     make(map[uuid.UUID][]domain.BankAccount),
		usersByPhone: make(map[string]domain.User),
	}
}

func (r *stubRepository) ListActiveAccountsByPriority(ctx context.Context, userID uuid.UUID) ([]domain.BankAccount, error) {
	var active []domain.BankAccount
	for _, account := range r.accounts[userID] {
		if account.IsActive {
			active = append(active, account)
		}
	}
	return active, nil
}

func (r *stubRepository) ListBankAccounts(ctx context.Context, userID uuid.UUID, bank *domain.Bank) ([]domain.BankAccount, error) {
	var out []domain.BankAccount
	for _, account := range r.accounts[userID] {
		if bank == nil || account.Bank == *bank {
			out = append(out, account)
		}
	}
	return out, nil
}

func (r *stubRepository) FindUserBankAccount(ctx context.Context, accountID, userID uuid.UUID) (*domain.BankAccount, error) {
	for _, account := range r.accounts[userID] {
		if account.ID == accountID {
			found := account
			return &found, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (r *stubRepository) FindVerifiedUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	user, ok := r.usersByPhone[phone]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

func (r *stubRepository) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	account.ID = uuid.New()
	if account.UserID != nil {
		r.accounts[*account.UserID] = append(r.accounts[*account.UserID], *account)
	}
	return nil
}

func (r *stubRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	payment.ID = uuid.New()
	r.created = append(r.created, payment)
	r.payments = append(r.payments, *payment)
	return nil
}

func (r *stubRepository) FindRecentDuplicatePayment(ctx context.Context, probe store.DuplicateProbe) (*domain.Payment, error) {
	if r.duplicate != nil && r.duplicate.CompletedAt != nil && !r.duplicate.CompletedAt.Before(probe.Since) {
		return r.duplicate, nil
	}
	return nil, store.ErrPaymentNotFound
}

func (r *stubRepository) ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Payment, error) {
	return r.payments, nil
}

func (r *stubRepository) ListCompletedPayments(ctx context.Context, userID uuid.UUID) ([]domain.Payment, error) {
	var completed []domain.Payment
	for _, payment := range r.payments {
		if payment.Status == domain.PaymentStatusCompleted {
			completed = append(completed, payment)
		}
	}
	return completed, nil
}

// fakeBackend serves scripted per-account data and can fail whole banks.
type fakeBackend struct {
	balances  map[string]domain.Balance
	txns      map[string][]domain.BankTransaction
	failBanks map[domain.Bank]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balances:  make(map[string]domain.Balance),
		txns:      make(map[string][]domain.BankTransaction),
		failBanks: make(map[domain.Bank]bool),
	}
}

func (b *fakeBackend) RequestToken(ctx context.Context, bank domain.Bank) (string, error) {
	if b.failBanks[bank] {
		return "", errors.New("bank down")
	}
	return "tok", nil
}

func (b *fakeBackend) RequestConsent(ctx context.Context, bank domain.Bank, token string, req bankapi.ConsentRequest) (bankapi.ConsentResult, error) {
	if b.failBanks[bank] {
		return bankapi.ConsentResult{}, errors.New("bank down")
	}
	return bankapi.ConsentResult{ConsentID: "consent-1", Status: "approved"}, nil
}

func (b *fakeBackend) FetchAccounts(ctx context.Context, bank domain.Bank, token, consentID, clientID string) ([]domain.ExternalAccount, error) {
	if b.failBanks[bank] {
		return nil, errors.New("bank down")
	}
	return []domain.ExternalAccount{{AccountID: fmt.Sprintf("%s_acc_001", bank.Name()), AccountName: "Основной счёт", Currency: "RUB"}}, nil
}

func (b *fakeBackend) FetchBalance(ctx context.Context, bank domain.Bank, token, consentID, accountID string) (domain.Balance, error) {
	if b.failBanks[bank] {
		return domain.Balance{}, errors.New("bank down")
	}
	balance, ok := b.balances[accountID]
	if !ok {
		return domain.Balance{Amount: decimal.Zero, Currency: "RUB"}, nil
	}
	return balance, nil
}

func (b *fakeBackend) FetchTransactions(ctx context.Context, bank domain.Bank, token, consentID, accountID string, limit int) ([]domain.BankTransaction, error) {
	if b.failBanks[bank] {
		return nil, errors.New("bank down")
	}
	return b.txns[accountID], nil
}

func (b *fakeBackend) FetchProducts(ctx context.Context, bank domain.Bank, token, productType string) ([]domain.Product, error) {
	if b.failBanks[bank] {
		return nil, errors.New("bank down")
	}
	return nil, nil
}

func newTestService(repo *stubRepository, backend *fakeBackend) (*Service, *cache.MemoryStore) {
	memStore := cache.NewMemoryStore()
	gateway := bankapi.NewClient(bankapi.Config{
		Store:      memStore,
		Backend:    backend,
		ClientID:   "team222",
		TokenTTL:   23 * time.Hour,
		ConsentTTL: 4 * time.Hour,
	})
	data := NewAccountDataCache(memStore, gateway, 4*time.Hour)
	service := NewService(repo, gateway, data, nil, false, decimal.Zero)
	return service, memStore
}

func addAccount(repo *stubRepository, userID uuid.UUID, bank domain.Bank, accountID string, priority int) domain.BankAccount {
	account := domain.BankAccount{
		ID:          uuid.New(),
		UserID:      &userID,
		Bank:        bank,
		AccountID:   accountID,
		AccountName: accountID,
		IsActive:    true,
		Priority:    priority,
	}
	repo.accounts[userID] = append(repo.accounts[userID], account)
	return account
}

func TestAllBalancesSkipsUnreachableBank(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()

	addAccount(repo, userID, domain.BankVBank, "v1", 1)
	addAccount(repo, userID, domain.BankSBank, "s1", 2)
	addAccount(repo, userID, domain.BankABank, "a1", 3)
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(1000), Currency: "RUB"}
	backend.balances["s1"] = domain.Balance{Amount: decimal.NewFromInt(2500), Currency: "RUB"}
	backend.failBanks[domain.BankABank] = true

	service, _ := newTestService(repo, backend)
	result, err := service.AllBalances(context.Background(), userID, nil)
	if err != nil {
		t.Fatalf("AllBalances returned error: %v", err)
	}
	if result.Count != 2 {
		t.Fatalf("expected 2 reachable accounts, got %d", result.Count)
	}
	if len(result.Totals) != 1 || !result.Totals[0].Amount.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("expected RUB total 3500, got %+v", result.Totals)
	}
}

func TestAllTransactionsPagination(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)
	addAccount(repo, userID, domain.BankSBank, "s1", 2)

	// 45 transactions spread over two accounts.
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 45; i++ {
		account := "v1"
		if i%2 == 1 {
			account = "s1"
		}
		backend.txns[account] = append(backend.txns[account], domain.BankTransaction{
			ID:        fmt.Sprintf("t%02d", i),
			Date:      base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			Amount:    decimal.NewFromInt(100),
			Currency:  "RUB",
			Direction: "debit",
		})
	}

	service, _ := newTestService(repo, backend)
	ctx := context.Background()

	page, err := service.AllTransactions(ctx, userID, nil, nil, nil, 20, 20)
	if err != nil {
		t.Fatalf("AllTransactions returned error: %v", err)
	}
	if len(page.Transactions) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(page.Transactions))
	}
	if page.Pagination.Total != 45 || !page.Pagination.HasMore {
		t.Fatalf("expected total=45 hasMore=true, got %+v", page.Pagination)
	}

	page, err = service.AllTransactions(ctx, userID, nil, nil, nil, 40, 20)
	if err != nil {
		t.Fatalf("AllTransactions returned error: %v", err)
	}
	if len(page.Transactions) != 5 || page.Pagination.HasMore {
		t.Fatalf("expected final page of 5 with hasMore=false, got %d rows, %+v", len(page.Transactions), page.Pagination)
	}

	// Newest first.
	first, _ := page.Transactions[0].ParseDate()
	last, _ := page.Transactions[len(page.Transactions)-1].ParseDate()
	if first.Before(last) {
		t.Fatal("expected descending date order")
	}
}

func TestAllTransactionsDateFilterKeepsMalformedDates(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)

	backend.txns["v1"] = []domain.BankTransaction{
		{ID: "good", Date: "2026-02-10T09:00:00Z", Amount: decimal.NewFromInt(50), Direction: "debit"},
		{ID: "bad", Date: "not-a-date", Amount: decimal.NewFromInt(75), Direction: "debit"},
		{ID: "blank", Date: "", Amount: decimal.NewFromInt(30), Direction: "debit"},
		{ID: "early", Date: "2026-01-05T09:00:00Z", Amount: decimal.NewFromInt(10), Direction: "debit"},
	}

	service, _ := newTestService(repo, backend)
	ctx := context.Background()

	// Without a filter every row is listed, dated or not.
	page, err := service.AllTransactions(ctx, userID, nil, nil, nil, 0, 10)
	if err != nil {
		t.Fatalf("AllTransactions returned error: %v", err)
	}
	if page.Pagination.Total != 4 {
		t.Fatalf("expected all rows without a filter, got %d", page.Pagination.Total)
	}

	// A bound excludes out-of-range and undated rows, but a row whose date
	// the bank mangled stays in the listing.
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	page, err = service.AllTransactions(ctx, userID, nil, &from, nil, 0, 10)
	if err != nil {
		t.Fatalf("AllTransactions returned error: %v", err)
	}
	if page.Pagination.Total != 2 {
		t.Fatalf("expected the in-range and malformed rows under a filter, got %d", page.Pagination.Total)
	}
	ids := map[string]bool{}
	for _, txn := range page.Transactions {
		ids[txn.ID] = true
	}
	if !ids["good"] || !ids["bad"] {
		t.Fatalf("expected good and bad rows to survive the filter, got %+v", page.Transactions)
	}
}

func TestCombinedStatementCapsRows(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var txns []domain.BankTransaction
	for i := 0; i < 120; i++ {
		txns = append(txns, domain.BankTransaction{
			ID:        fmt.Sprintf("t%03d", i),
			Date:      base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			Amount:    decimal.NewFromInt(10),
			Direction: "debit",
		})
	}
	backend.txns["v1"] = txns
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(9000), Currency: "RUB"}

	service, _ := newTestService(repo, backend)
	statement, err := service.CombinedStatement(context.Background(), userID, "", "")
	if err != nil {
		t.Fatalf("CombinedStatement returned error: %v", err)
	}
	if len(statement.Rows) != CombinedStatementRowCap {
		t.Fatalf("expected row section capped at %d, got %d", CombinedStatementRowCap, len(statement.Rows))
	}
	if statement.Summary.TotalTransactions != 120 {
		t.Fatalf("expected summary over all 120 rows, got %d", statement.Summary.TotalTransactions)
	}
	if !statement.Summary.TotalExpenses.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("expected expenses 1200, got %s", statement.Summary.TotalExpenses)
	}
}

func TestCombinedStatementTotalsUseMagnitudes(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)

	// A negatively-signed debit still counts its full size toward expenses.
	backend.txns["v1"] = []domain.BankTransaction{
		{ID: "neg", Date: "2026-02-03T10:00:00Z", Amount: decimal.NewFromInt(-500), Direction: "debit"},
		{ID: "pos", Date: "2026-02-04T10:00:00Z", Amount: decimal.NewFromInt(1000), Direction: "debit"},
		{ID: "pay", Date: "2026-02-05T10:00:00Z", Amount: decimal.NewFromInt(-300), Direction: "credit"},
	}
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(9000), Currency: "RUB"}

	service, _ := newTestService(repo, backend)
	statement, err := service.CombinedStatement(context.Background(), userID, "", "")
	if err != nil {
		t.Fatalf("CombinedStatement returned error: %v", err)
	}
	if !statement.Summary.TotalExpenses.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected expenses 1500, got %s", statement.Summary.TotalExpenses)
	}
	if !statement.Summary.TotalIncome.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected income 300, got %s", statement.Summary.TotalIncome)
	}
	if !statement.Summary.NetAmount.Equal(decimal.NewFromInt(-1200)) {
		t.Fatalf("expected net -1200, got %s", statement.Summary.NetAmount)
	}
}

func TestAllBalancesBankFilter(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)
	addAccount(repo, userID, domain.BankSBank, "s1", 2)
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(1000), Currency: "RUB"}
	backend.balances["s1"] = domain.Balance{Amount: decimal.NewFromInt(2000), Currency: "RUB"}

	service, _ := newTestService(repo, backend)
	bank := domain.BankVBank
	result, err := service.AllBalances(context.Background(), userID, &bank)
	if err != nil {
		t.Fatalf("AllBalances returned error: %v", err)
	}
	if result.Count != 1 || len(result.Totals) != 1 || !result.Totals[0].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected only the vbank account, got %+v", result)
	}
}

func TestCreateAccountRecordsFirstBankAccount(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()

	service, _ := newTestService(repo, backend)
	summary, err := service.CreateAccount(context.Background(), userID, domain.BankVBank)
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if summary.AccountID != "vbank_acc_001" {
		t.Fatalf("expected the bank's first account to be linked, got %q", summary.AccountID)
	}
	if summary.Priority != domain.DefaultAccountPriority {
		t.Fatalf("expected default priority %d, got %d", domain.DefaultAccountPriority, summary.Priority)
	}
	if len(repo.accounts[userID]) != 1 {
		t.Fatalf("expected one directory row, got %d", len(repo.accounts[userID]))
	}
}
