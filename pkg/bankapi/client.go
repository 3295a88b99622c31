/**
 * @description
 * Client is the gateway the rest of the service talks to. It layers the
 * token and consent TTL caches over a Backend and applies the
 * permissive-mode degradation policy: when a fallback backend is configured,
 * any primary failure is masked with simulated data so that downstream
 * aggregation never needs a "bank unreachable" branch; without a fallback
 * the failure propagates as ErrBankUnavailable.
 *
 * Cache keys follow the fixed scheme `bank_token:{user}:{bank}` and
 * `consent:{user}:{bank}`. Failed acquisitions are never cached.
 *
 * @dependencies
 * - context, fmt, log, time: Standard Go libraries.
 * - internal/cache: TTL key-value store.
 * - internal/domain: Typed bank operation results.
 */
package bankapi

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bankhub/aggregation-service/internal/cache"
	"github.com/bankhub/aggregation-service/internal/domain"
)

const defaultTransactionLimit = 10

// ReadPermissions is the full permission set requested when a consent is
// created for account aggregation.
var ReadPermissions = []string{PermReadAccounts, PermReadBalances, PermReadTransactions}

// Client is the per-bank gateway with token/consent caching and the
// configured degradation strategy.
type Client struct {
	store      cache.Store
	backend    Backend
	fallback   Backend // nil outside permissive mode
	clientID   string
	tokenTTL   time.Duration
	consentTTL time.Duration
}

// Config carries the Client's construction parameters.
type Config struct {
	Store      cache.Store
	Backend    Backend
	Fallback   Backend
	ClientID   string
	TokenTTL   time.Duration
	ConsentTTL time.Duration
}

// NewClient creates a gateway Client. Fallback may be nil (strict mode).
func NewClient(cfg Config) *Client {
	return &Client{
		store:      cfg.Store,
		backend:    cfg.Backend,
		fallback:   cfg.Fallback,
		clientID:   cfg.ClientID,
		tokenTTL:   cfg.TokenTTL,
		consentTTL: cfg.ConsentTTL,
	}
}

// UserClientID derives the per-user client id sent to banks.
func (c *Client) UserClientID(userID string) string {
	return fmt.Sprintf("%s-%s", c.clientID, userID)
}

// Token returns the cached bank token for (user, bank), acquiring and
// caching a fresh one on miss. A fallback token is returned uncached so the
// next read retries the live bank.
func (c *Client) Token(ctx context.Context, userID string, bank domain.Bank) (string, error) {
	key := fmt.Sprintf("bank_token:%s:%d", userID, bank)

	if token, found, err := c.store.Get(ctx, key); err == nil && found {
		return token, nil
	} else if err != nil {
		log.Printf("level=warn component=bankapi msg=\"token cache read failed\" bank=%s err=%v", bank.Name(), err)
	}

	token, err := c.backend.RequestToken(ctx, bank)
	if err != nil {
		if c.fallback != nil {
			log.Printf("level=warn component=bankapi msg=\"token request failed; using simulated token\" bank=%s err=%v", bank.Name(), err)
			return c.fallback.RequestToken(ctx, bank)
		}
		return "", fmt.Errorf("%w: token request for %s: %v", ErrBankUnavailable, bank.Name(), err)
	}

	if err := c.store.SetWithTTL(ctx, key, token, c.tokenTTL); err != nil {
		log.Printf("level=warn component=bankapi msg=\"token cache write failed\" bank=%s err=%v", bank.Name(), err)
	}
	return token, nil
}

// CreateConsent requests a consent grant for the given permissions and
// caches the resulting id under the consent TTL. A "pending" answer without
// a consent id is represented by a placeholder id and treated as valid by
// the rest of the system.
func (c *Client) CreateConsent(ctx context.Context, userID string, bank domain.Bank, permissions []string) (string, error) {
	token, err := c.Token(ctx, userID, bank)
	if err != nil {
		return "", err
	}

	result, err := c.backend.RequestConsent(ctx, bank, token, ConsentRequest{
		ClientID:    c.UserClientID(userID),
		Permissions: permissions,
	})
	if err != nil {
		if c.fallback != nil {
			log.Printf("level=warn component=bankapi msg=\"consent request failed; using simulated consent\" bank=%s err=%v", bank.Name(), err)
			fallbackResult, fbErr := c.fallback.RequestConsent(ctx, bank, token, ConsentRequest{
				ClientID:    c.UserClientID(userID),
				Permissions: permissions,
			})
			if fbErr != nil {
				return "", fbErr
			}
			return fallbackResult.ConsentID, nil
		}
		return "", fmt.Errorf("%w: consent request for %s: %v", ErrBankUnavailable, bank.Name(), err)
	}

	consentID := result.ConsentID
	if consentID == "" {
		if result.Status != "pending" {
			return "", fmt.Errorf("%w: bank %s returned no consent id (status %s)", ErrBankUnavailable, bank.Name(), result.Status)
		}
		consentID = result.RequestID
		if consentID == "" {
			consentID = fmt.Sprintf("pending_%d_%s", bank, userID)
		}
		log.Printf("level=warn component=bankapi msg=\"consent pending; storing placeholder id\" bank=%s consent_id=%s", bank.Name(), consentID)
	}

	key := fmt.Sprintf("consent:%s:%d", userID, bank)
	if err := c.store.SetWithTTL(ctx, key, consentID, c.consentTTL); err != nil {
		log.Printf("level=warn component=bankapi msg=\"consent cache write failed\" bank=%s err=%v", bank.Name(), err)
	}

	if result.Status == "approved" {
		log.Printf("level=info component=bankapi msg=\"consent approved\" bank=%s consent_id=%s", bank.Name(), consentID)
	} else {
		log.Printf("level=warn component=bankapi msg=\"consent not yet approved\" bank=%s consent_id=%s status=%s", bank.Name(), consentID, result.Status)
	}
	return consentID, nil
}

// consent returns the cached consent id for (user, bank), creating one with
// the full read permission set on miss.
func (c *Client) consent(ctx context.Context, userID string, bank domain.Bank) (string, error) {
	key := fmt.Sprintf("consent:%s:%d", userID, bank)
	if consentID, found, err := c.store.Get(ctx, key); err == nil && found {
		return consentID, nil
	} else if err != nil {
		log.Printf("level=warn component=bankapi msg=\"consent cache read failed\" bank=%s err=%v", bank.Name(), err)
	}
	return c.CreateConsent(ctx, userID, bank, ReadPermissions)
}

// Accounts lists the user's accounts at one bank.
func (c *Client) Accounts(ctx context.Context, userID string, bank domain.Bank) ([]domain.ExternalAccount, error) {
	token, err := c.Token(ctx, userID, bank)
	if err != nil {
		return nil, err
	}
	consentID, err := c.consent(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	accounts, err := c.backend.FetchAccounts(ctx, bank, token, consentID, c.UserClientID(userID))
	if err != nil {
		if c.fallback != nil {
			log.Printf("level=warn component=bankapi msg=\"account fetch failed; using simulated accounts\" bank=%s err=%v", bank.Name(), err)
			return c.fallback.FetchAccounts(ctx, bank, token, consentID, c.UserClientID(userID))
		}
		return nil, fmt.Errorf("%w: account fetch from %s: %v", ErrBankUnavailable, bank.Name(), err)
	}
	return accounts, nil
}

// Balance fetches the current balance of one external account.
func (c *Client) Balance(ctx context.Context, userID string, bank domain.Bank, accountID string) (domain.Balance, error) {
	token, err := c.Token(ctx, userID, bank)
	if err != nil {
		return domain.Balance{}, err
	}
	consentID, err := c.consent(ctx, userID, bank)
	if err != nil {
		return domain.Balance{}, err
	}

	balance, err := c.backend.FetchBalance(ctx, bank, token, consentID, accountID)
	if err != nil {
		if c.fallback != nil {
			log.Printf("level=warn component=bankapi msg=\"balance fetch failed; using simulated balance\" bank=%s account_id=%s err=%v", bank.Name(), accountID, err)
			return c.fallback.FetchBalance(ctx, bank, token, consentID, accountID)
		}
		return domain.Balance{}, fmt.Errorf("%w: balance fetch from %s: %v", ErrBankUnavailable, bank.Name(), err)
	}
	return balance, nil
}

// Transactions fetches the recent transactions of one external account.
func (c *Client) Transactions(ctx context.Context, userID string, bank domain.Bank, accountID string) ([]domain.BankTransaction, error) {
	token, err := c.Token(ctx, userID, bank)
	if err != nil {
		return nil, err
	}
	consentID, err := c.consent(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	transactions, err := c.backend.FetchTransactions(ctx, bank, token, consentID, accountID, defaultTransactionLimit)
	if err != nil {
		if c.fallback != nil {
			log.Printf("level=warn component=bankapi msg=\"transaction fetch failed; using simulated transactions\" bank=%s account_id=%s err=%v", bank.Name(), accountID, err)
			return c.fallback.FetchTransactions(ctx, bank, token, consentID, accountID, defaultTransactionLimit)
		}
		return nil, fmt.Errorf("%w: transaction fetch from %s: %v", ErrBankUnavailable, bank.Name(), err)
	}
	return transactions, nil
}

// Products fetches a bank's product catalog, optionally filtered by type.
func (c *Client) Products(ctx context.Context, userID string, bank domain.Bank, productType string) ([]domain.Product, error) {
	token, err := c.Token(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	products, err := c.backend.FetchProducts(ctx, bank, token, productType)
	if err != nil {
		if c.fallback != nil {
			log.Printf("level=warn component=bankapi msg=\"product fetch failed; using simulated products\" bank=%s err=%v", bank.Name(), err)
			return c.fallback.FetchProducts(ctx, bank, token, productType)
		}
		return nil, fmt.Errorf("%w: product fetch from %s: %v", ErrBankUnavailable, bank.Name(), err)
	}
	return products, nil
}
