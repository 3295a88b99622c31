package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/cache"
	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/pkg/bankapi"
)

func newTestDataCache(backend *fakeBackend) (*AccountDataCache, *cache.MemoryStore) {
	memStore := cache.NewMemoryStore()
	gateway := bankapi.NewClient(bankapi.Config{
		Store:      memStore,
		Backend:    backend,
		ClientID:   "team222",
		TokenTTL:   23 * time.Hour,
		ConsentTTL: 4 * time.Hour,
	})
	return NewAccountDataCache(memStore, gateway, 4*time.Hour), memStore
}

func seedBalance(t *testing.T, memStore *cache.MemoryStore, userID, accountID string, amount int64) {
	t.Helper()
	payload, err := json.Marshal(domain.Balance{Amount: decimal.NewFromInt(amount), Currency: "RUB"})
	if err != nil {
		t.Fatalf("marshal balance: %v", err)
	}
	if err := memStore.SetWithTTL(context.Background(), "balance:"+userID+":"+accountID, string(payload), time.Hour); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func cachedAmount(t *testing.T, memStore *cache.MemoryStore, userID, accountID string) (decimal.Decimal, bool) {
	t.Helper()
	raw, found, err := memStore.Get(context.Background(), "balance:"+userID+":"+accountID)
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if !found {
		return decimal.Zero, false
	}
	var balance domain.Balance
	if err := json.Unmarshal([]byte(raw), &balance); err != nil {
		t.Fatalf("unmarshal cached balance: %v", err)
	}
	return balance.Amount, true
}

func TestBalanceReadThroughCachesResult(t *testing.T) {
	backend := newFakeBackend()
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(4200), Currency: "RUB"}
	data, memStore := newTestDataCache(backend)
	ctx := context.Background()

	balance, err := data.Balance(ctx, "user-1", domain.BankVBank, "v1")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(4200)) {
		t.Fatalf("expected 4200, got %s", balance.Amount)
	}

	// A second read must come from cache even if the bank now reports
	// something else.
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(1), Currency: "RUB"}
	balance, err = data.Balance(ctx, "user-1", domain.BankVBank, "v1")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(4200)) {
		t.Fatalf("expected cached 4200, got %s", balance.Amount)
	}
	if amount, found := cachedAmount(t, memStore, "user-1", "v1"); !found || !amount.Equal(decimal.NewFromInt(4200)) {
		t.Fatalf("expected cache entry 4200, found=%v amount=%s", found, amount)
	}
}

func TestBalanceRefetchedAfterTTLExpiry(t *testing.T) {
	backend := newFakeBackend()
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(1000), Currency: "RUB"}

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	memStore := cache.NewMemoryStoreWithClock(func() time.Time { return current })
	gateway := bankapi.NewClient(bankapi.Config{
		Store:      memStore,
		Backend:    backend,
		ClientID:   "team222",
		TokenTTL:   23 * time.Hour,
		ConsentTTL: 8 * time.Hour,
	})
	data := NewAccountDataCache(memStore, gateway, 4*time.Hour)
	ctx := context.Background()

	if _, err := data.Balance(ctx, "user-1", domain.BankVBank, "v1"); err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(5000), Currency: "RUB"}

	// Inside the TTL the cached value is served.
	current = current.Add(3 * time.Hour)
	balance, err := data.Balance(ctx, "user-1", domain.BankVBank, "v1")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected cached 1000 before expiry, got %s", balance.Amount)
	}

	// Past the TTL the next read goes back to the bank.
	current = current.Add(2 * time.Hour)
	balance, err = data.Balance(ctx, "user-1", domain.BankVBank, "v1")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected refetched 5000 after expiry, got %s", balance.Amount)
	}
}

func TestAdjustBalanceFloorsAtZero(t *testing.T) {
	data, memStore := newTestDataCache(newFakeBackend())
	seedBalance(t, memStore, "user-1", "v1", 100)

	data.AdjustBalance(context.Background(), "user-1", "v1", decimal.NewFromInt(-250), nil)

	amount, found := cachedAmount(t, memStore, "user-1", "v1")
	if !found || !amount.Equal(decimal.Zero) {
		t.Fatalf("expected balance floored at zero, found=%v amount=%s", found, amount)
	}
}

func TestAdjustBalanceNoopWhenEntryAbsent(t *testing.T) {
	data, memStore := newTestDataCache(newFakeBackend())

	data.AdjustBalance(context.Background(), "user-1", "v1", decimal.NewFromInt(-100), nil)

	if _, found := cachedAmount(t, memStore, "user-1", "v1"); found {
		t.Fatal("expected no cache entry to be created")
	}
}

func TestAdjustBalanceSkipsAlreadyAppliedDebit(t *testing.T) {
	data, memStore := newTestDataCache(newFakeBackend())
	// Snapshot said 10000 but the cache already reflects the 1500 debit.
	seedBalance(t, memStore, "user-1", "v1", 8500)
	snapshot := decimal.NewFromInt(10000)

	data.AdjustBalance(context.Background(), "user-1", "v1", decimal.NewFromInt(-1500), &snapshot)

	amount, _ := cachedAmount(t, memStore, "user-1", "v1")
	if !amount.Equal(decimal.NewFromInt(8500)) {
		t.Fatalf("expected debit to be skipped at 8500, got %s", amount)
	}

	// A not-yet-applied debit against the same snapshot still lands.
	seedBalance(t, memStore, "user-1", "v1", 10000)
	data.AdjustBalance(context.Background(), "user-1", "v1", decimal.NewFromInt(-1500), &snapshot)
	amount, _ = cachedAmount(t, memStore, "user-1", "v1")
	if !amount.Equal(decimal.NewFromInt(8500)) {
		t.Fatalf("expected debit applied down to 8500, got %s", amount)
	}
}

func TestInvalidateDropsBothViews(t *testing.T) {
	data, memStore := newTestDataCache(newFakeBackend())
	ctx := context.Background()
	seedBalance(t, memStore, "user-1", "v1", 500)
	if err := memStore.SetWithTTL(ctx, "transactions:user-1:v1", "[]", time.Hour); err != nil {
		t.Fatalf("seed transactions: %v", err)
	}

	data.Invalidate(ctx, "user-1", "v1")

	if _, found := cachedAmount(t, memStore, "user-1", "v1"); found {
		t.Fatal("expected balance entry dropped")
	}
	if _, found, _ := memStore.Get(ctx, "transactions:user-1:v1"); found {
		t.Fatal("expected transactions entry dropped")
	}
}

func TestInvalidateTransactionsKeepsBalance(t *testing.T) {
	data, memStore := newTestDataCache(newFakeBackend())
	ctx := context.Background()
	seedBalance(t, memStore, "user-1", "v1", 500)
	if err := memStore.SetWithTTL(ctx, "transactions:user-1:v1", "[]", time.Hour); err != nil {
		t.Fatalf("seed transactions: %v", err)
	}

	data.InvalidateTransactions(ctx, "user-1", "v1")

	if _, found := cachedAmount(t, memStore, "user-1", "v1"); !found {
		t.Fatal("expected balance entry kept")
	}
	if _, found, _ := memStore.Get(ctx, "transactions:user-1:v1"); found {
		t.Fatal("expected transactions entry dropped")
	}
}
