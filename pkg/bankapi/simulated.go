/**
 * @description
 * SimulatedBackend synthesizes structurally valid bank responses without any
 * network calls. It serves two deployments: as the primary backend for fully
 * offline development, and as the fallback the Client degrades to in
 * permissive mode when a live bank is unreachable.
 */
package bankapi

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/domain"
)

var mockDescriptions = []string{
	"Покупка в магазине",
	"Оплата ресторана",
	"Перевод",
	"Снятие наличных",
}

// SimulatedBackend produces mock tokens, consents, accounts, balances and
// transactions that downstream code cannot distinguish from live data.
type SimulatedBackend struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSimulatedBackend creates a SimulatedBackend on the wall clock.
func NewSimulatedBackend() *SimulatedBackend {
	return &SimulatedBackend{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// NewSimulatedBackendWithSeed pins the random source and clock, for tests.
func NewSimulatedBackendWithSeed(seed int64, now func() time.Time) *SimulatedBackend {
	return &SimulatedBackend{
		rng: rand.New(rand.NewSource(seed)),
		now: now,
	}
}

func (b *SimulatedBackend) RequestToken(ctx context.Context, bank domain.Bank) (string, error) {
	return fmt.Sprintf("mock_token_%s_dev", bank.Name()), nil
}

func (b *SimulatedBackend) RequestConsent(ctx context.Context, bank domain.Bank, token string, req ConsentRequest) (ConsentResult, error) {
	return ConsentResult{
		ConsentID: fmt.Sprintf("consent_%d_%s_dev", bank, req.ClientID),
		Status:    "approved",
	}, nil
}

func (b *SimulatedBackend) FetchAccounts(ctx context.Context, bank domain.Bank, token, consentID, clientID string) ([]domain.ExternalAccount, error) {
	return []domain.ExternalAccount{
		{
			AccountID:   fmt.Sprintf("%s_acc_001", bank.Name()),
			AccountName: "Основной счёт",
			Currency:    "RUB",
			AccountType: "Personal",
		},
	}, nil
}

func (b *SimulatedBackend) FetchBalance(ctx context.Context, bank domain.Bank, token, consentID, accountID string) (domain.Balance, error) {
	b.mu.Lock()
	amount := 1000 + b.rng.Float64()*49000
	b.mu.Unlock()

	return domain.Balance{
		Amount:   decimal.NewFromFloat(amount).Round(2),
		Currency: "RUB",
	}, nil
}

func (b *SimulatedBackend) FetchTransactions(ctx context.Context, bank domain.Bank, token, consentID, accountID string, limit int) ([]domain.BankTransaction, error) {
	count := limit
	if count > 5 {
		count = 5
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	transactions := make([]domain.BankTransaction, 0, count)
	for i := 0; i < count; i++ {
		amount := -500 + b.rng.Float64()*1500
		direction := "debit"
		if b.rng.Float64() <= 0.3 {
			direction = "credit"
		}
		transactions = append(transactions, domain.BankTransaction{
			ID:          fmt.Sprintf("txn_%d", 10000+b.rng.Intn(90000)),
			Date:        b.now().UTC().AddDate(0, 0, -i).Format(time.RFC3339),
			Description: mockDescriptions[b.rng.Intn(len(mockDescriptions))],
			Amount:      decimal.NewFromFloat(amount).Round(2),
			Currency:    "RUB",
			Direction:   direction,
		})
	}
	return transactions, nil
}

func (b *SimulatedBackend) FetchProducts(ctx context.Context, bank domain.Bank, token, productType string) ([]domain.Product, error) {
	depositRate := decimal.NewFromFloat(8.5)
	depositMin := decimal.NewFromInt(10000)
	cardMin := decimal.Zero

	products := []domain.Product{
		{
			ProductID:   fmt.Sprintf("prod-%s-card-001", bank.Name()),
			ProductType: "card",
			ProductName: "Дебетовая карта",
			Description: "Карта с кешбеком 2%",
			MinAmount:   &cardMin,
		},
		{
			ProductID:    fmt.Sprintf("prod-%s-deposit-001", bank.Name()),
			ProductType:  "deposit",
			ProductName:  "Вклад Надежный",
			Description:  "Вклад под 8.5% годовых",
			InterestRate: &depositRate,
			MinAmount:    &depositMin,
		},
	}

	if productType == "" {
		return products, nil
	}
	filtered := products[:0]
	for _, p := range products {
		if p.ProductType == productType {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}
