/**
 * @description
 * This file implements the read-through aggregation cache for bank account
 * data. Balances and transaction lists fetched from banks are stored under
 * per-(user, account) keys with a shared TTL. Internal payments settle
 * against the cache via compensating updates rather than waiting for banks
 * to reflect them.
 *
 * Key features:
 * - Read-through: a miss triggers a gateway fetch and a write-back.
 * - AdjustBalance applies signed deltas to an existing cached balance,
 *   floors the result at zero, and skips the write when the delta already
 *   shows in the cached amount.
 * - Invalidate drops both cached views so the next read refetches.
 *
 * @dependencies
 * - internal/cache: The injected TTL key-value store.
 * - pkg/bankapi: The bank gateway client used on cache misses.
 * - github.com/shopspring/decimal: Exact balance arithmetic.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/cache"
	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/pkg/bankapi"
)

// DefaultDataTTL is how long cached balances and transaction lists stay
// fresh before the next read refetches from the bank.
const DefaultDataTTL = 4 * time.Hour

// AccountDataCache is the read-through cache for per-account bank data.
type AccountDataCache struct {
	store   cache.Store
	gateway *bankapi.Client
	ttl     time.Duration
}

// NewAccountDataCache builds the cache around an injected store and gateway
// client. A non-positive ttl falls back to DefaultDataTTL.
func NewAccountDataCache(store cache.Store, gateway *bankapi.Client, ttl time.Duration) *AccountDataCache {
	if ttl <= 0 {
		ttl = DefaultDataTTL
	}
	return &AccountDataCache{store: store, gateway: gateway, ttl: ttl}
}

func balanceKey(userID, accountID string) string {
	return fmt.Sprintf("balance:%s:%s", userID, accountID)
}

func transactionsKey(userID, accountID string) string {
	return fmt.Sprintf("transactions:%s:%s", userID, accountID)
}

// Balance returns the cached balance for the account, fetching from the bank
// on a miss.
func (c *AccountDataCache) Balance(ctx context.Context, userID string, bank domain.Bank, accountID string) (domain.Balance, error) {
	key := balanceKey(userID, accountID)
	if raw, found, err := c.store.Get(ctx, key); err == nil && found {
		var balance domain.Balance
		if err := json.Unmarshal([]byte(raw), &balance); err == nil {
			return balance, nil
		}
		// Corrupt entry: drop it and fall through to a fresh fetch.
		_ = c.store.Delete(ctx, key)
	} else if err != nil {
		log.Printf("AccountDataCache: balance cache read failed for %s: %v", key, err)
	}

	balance, err := c.gateway.Balance(ctx, userID, bank, accountID)
	if err != nil {
		return domain.Balance{}, err
	}
	c.put(ctx, key, balance)
	return balance, nil
}

// Transactions returns the cached transaction list for the account, fetching
// from the bank on a miss.
func (c *AccountDataCache) Transactions(ctx context.Context, userID string, bank domain.Bank, accountID string) ([]domain.BankTransaction, error) {
	key := transactionsKey(userID, accountID)
	if raw, found, err := c.store.Get(ctx, key); err == nil && found {
		var transactions []domain.BankTransaction
		if err := json.Unmarshal([]byte(raw), &transactions); err == nil {
			return transactions, nil
		}
		_ = c.store.Delete(ctx, key)
	} else if err != nil {
		log.Printf("AccountDataCache: transactions cache read failed for %s: %v", key, err)
	}

	transactions, err := c.gateway.Transactions(ctx, userID, bank, accountID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, transactions)
	return transactions, nil
}

// Refresh force-fetches both views from the bank and rewrites the cache,
// returning the fresh data.
func (c *AccountDataCache) Refresh(ctx context.Context, userID string, bank domain.Bank, accountID string) (domain.Balance, []domain.BankTransaction, error) {
	balance, err := c.gateway.Balance(ctx, userID, bank, accountID)
	if err != nil {
		return domain.Balance{}, nil, err
	}
	transactions, err := c.gateway.Transactions(ctx, userID, bank, accountID)
	if err != nil {
		return domain.Balance{}, nil, err
	}
	c.put(ctx, balanceKey(userID, accountID), balance)
	c.put(ctx, transactionsKey(userID, accountID), transactions)
	return balance, transactions, nil
}

// Invalidate drops both cached views for the account so the next read
// refetches from the bank.
func (c *AccountDataCache) Invalidate(ctx context.Context, userID, accountID string) {
	if err := c.store.Delete(ctx, balanceKey(userID, accountID)); err != nil {
		log.Printf("AccountDataCache: failed to invalidate balance for %s/%s: %v", userID, accountID, err)
	}
	if err := c.store.Delete(ctx, transactionsKey(userID, accountID)); err != nil {
		log.Printf("AccountDataCache: failed to invalidate transactions for %s/%s: %v", userID, accountID, err)
	}
}

// InvalidateTransactions drops only the cached transaction list, keeping the
// (compensated) balance. Used after internal payments so the new entry shows
// up on the next history read.
func (c *AccountDataCache) InvalidateTransactions(ctx context.Context, userID, accountID string) {
	if err := c.store.Delete(ctx, transactionsKey(userID, accountID)); err != nil {
		log.Printf("AccountDataCache: failed to invalidate transactions for %s/%s: %v", userID, accountID, err)
	}
}

// AdjustBalance applies a signed delta to the cached balance as a
// compensating update after an internal payment. When expected is non-nil it
// is the balance snapshot taken before the payment: if the cached amount
// already reflects the delta relative to that snapshot, the write is skipped
// so retried compensations don't double-apply. A missing cache entry is a
// no-op; the next read fetches the settled balance from the bank.
func (c *AccountDataCache) AdjustBalance(ctx context.Context, userID, accountID string, delta decimal.Decimal, expected *decimal.Decimal) {
	key := balanceKey(userID, accountID)
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		log.Printf("AccountDataCache: balance adjust read failed for %s: %v", key, err)
		return
	}
	if !found {
		log.Printf("AccountDataCache: no cached balance to adjust for %s/%s, skipping", userID, accountID)
		return
	}
	var balance domain.Balance
	if err := json.Unmarshal([]byte(raw), &balance); err != nil {
		log.Printf("AccountDataCache: corrupt cached balance for %s, dropping: %v", key, err)
		_ = c.store.Delete(ctx, key)
		return
	}

	if expected != nil {
		applied := expected.Add(delta)
		alreadyApplied := (delta.IsNegative() && balance.Amount.LessThanOrEqual(applied)) ||
			(delta.IsPositive() && balance.Amount.GreaterThanOrEqual(applied))
		if alreadyApplied {
			log.Printf("AccountDataCache: delta %s already reflected for %s/%s, skipping", delta, userID, accountID)
			return
		}
	}

	balance.Amount = balance.Amount.Add(delta)
	if balance.Amount.IsNegative() {
		balance.Amount = decimal.Zero
	}
	c.put(ctx, key, balance)
}

func (c *AccountDataCache) put(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("AccountDataCache: failed to encode cache entry %s: %v", key, err)
		return
	}
	if err := c.store.SetWithTTL(ctx, key, string(raw), c.ttl); err != nil {
		log.Printf("AccountDataCache: failed to write cache entry %s: %v", key, err)
	}
}
