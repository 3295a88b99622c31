/**
 * @description
 * LiveBackend speaks HTTP JSON to the real bank APIs. Every call is bearer
 * authenticated with the bank-issued token; data reads additionally carry the
 * consent id and requesting-bank headers. Responses are decoded from the
 * banks' nested envelope shapes into the typed domain results here and
 * nowhere else.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net, net/http, net/url, time:
 *   Standard Go libraries.
 * - github.com/shopspring/decimal: Money amounts.
 * - internal/domain: Typed bank operation results.
 */
package bankapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/domain"
)

const (
	liveConnectTimeout = 10 * time.Second
	liveTotalTimeout   = 30 * time.Second

	consentReason     = "Агрегация счетов для Bank Aggregator"
	requestingAppName = "Bank Aggregator App"
)

// LiveBackend issues authenticated requests against each bank's base URL
// using the team credentials shared by all banks in the sandbox.
type LiveBackend struct {
	baseURLs     map[domain.Bank]string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewLiveBackend creates a LiveBackend. baseURLs entries override the
// per-bank defaults; a nil or partial map falls back to
// domain.Bank.DefaultBaseURL.
func NewLiveBackend(baseURLs map[domain.Bank]string, clientID, clientSecret string) *LiveBackend {
	return &LiveBackend{
		baseURLs:     baseURLs,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: liveTotalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: liveConnectTimeout}).DialContext,
			},
		},
	}
}

func (b *LiveBackend) baseURL(bank domain.Bank) string {
	if u, ok := b.baseURLs[bank]; ok && u != "" {
		return u
	}
	return bank.DefaultBaseURL()
}

// amountEnvelope is the nested money shape the banks use:
// {"amount": "123.45", "currency": "RUB"}. Amounts arrive as either JSON
// numbers or strings; decimal accepts both.
type amountEnvelope struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (b *LiveBackend) RequestToken(ctx context.Context, bank domain.Bank) (string, error) {
	endpoint := fmt.Sprintf("%s/auth/bank-token?%s", b.baseURL(bank), url.Values{
		"client_id":     {b.clientID},
		"client_secret": {b.clientSecret},
	}.Encode())

	var resp tokenResponse
	if err := b.do(ctx, http.MethodPost, endpoint, nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("bank %s returned no access token", bank.Name())
	}
	return resp.AccessToken, nil
}

type consentResponse struct {
	ConsentID string `json:"consent_id"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

func (b *LiveBackend) RequestConsent(ctx context.Context, bank domain.Bank, token string, req ConsentRequest) (ConsentResult, error) {
	endpoint := fmt.Sprintf("%s/account-consents/request", b.baseURL(bank))

	body := map[string]interface{}{
		"client_id":            req.ClientID,
		"permissions":          req.Permissions,
		"reason":               consentReason,
		"requesting_bank":      b.clientID,
		"requesting_bank_name": requestingAppName,
	}

	headers := map[string]string{
		"Authorization":     "Bearer " + token,
		"X-Requesting-Bank": b.clientID,
	}

	var resp consentResponse
	if err := b.do(ctx, http.MethodPost, endpoint, headers, body, &resp); err != nil {
		return ConsentResult{}, err
	}

	status := resp.Status
	if status == "" {
		status = "unknown"
	}
	return ConsentResult{
		ConsentID: resp.ConsentID,
		Status:    status,
		RequestID: resp.RequestID,
	}, nil
}

type accountsResponse struct {
	Data struct {
		Account []struct {
			AccountID   string `json:"accountId"`
			Nickname    string `json:"nickname"`
			Currency    string `json:"currency"`
			AccountType string `json:"accountType"`
		} `json:"account"`
	} `json:"data"`
}

func (b *LiveBackend) FetchAccounts(ctx context.Context, bank domain.Bank, token, consentID, clientID string) ([]domain.ExternalAccount, error) {
	endpoint := fmt.Sprintf("%s/accounts?%s", b.baseURL(bank), url.Values{"client_id": {clientID}}.Encode())

	var resp accountsResponse
	if err := b.do(ctx, http.MethodGet, endpoint, b.dataHeaders(token, consentID), nil, &resp); err != nil {
		return nil, err
	}

	accounts := make([]domain.ExternalAccount, 0, len(resp.Data.Account))
	for _, acc := range resp.Data.Account {
		name := acc.Nickname
		if name == "" {
			name = "Счёт"
		}
		currency := acc.Currency
		if currency == "" {
			currency = "RUB"
		}
		accountType := acc.AccountType
		if accountType == "" {
			accountType = "Personal"
		}
		accounts = append(accounts, domain.ExternalAccount{
			AccountID:   acc.AccountID,
			AccountName: name,
			Currency:    currency,
			AccountType: accountType,
		})
	}
	return accounts, nil
}

type balanceResponse struct {
	Data struct {
		Balance []struct {
			Amount amountEnvelope `json:"amount"`
		} `json:"balance"`
	} `json:"data"`
}

func (b *LiveBackend) FetchBalance(ctx context.Context, bank domain.Bank, token, consentID, accountID string) (domain.Balance, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/balances", b.baseURL(bank), url.PathEscape(accountID))

	var resp balanceResponse
	if err := b.do(ctx, http.MethodGet, endpoint, b.dataHeaders(token, consentID), nil, &resp); err != nil {
		return domain.Balance{}, err
	}

	if len(resp.Data.Balance) == 0 {
		return domain.Balance{Amount: decimal.Zero, Currency: "RUB"}, nil
	}

	first := resp.Data.Balance[0]
	currency := first.Amount.Currency
	if currency == "" {
		currency = "RUB"
	}
	return domain.Balance{Amount: first.Amount.Amount, Currency: currency}, nil
}

type transactionsResponse struct {
	Data struct {
		Transaction []struct {
			TransactionID          string         `json:"transactionId"`
			BookingDateTime        string         `json:"bookingDateTime"`
			TransactionInformation string         `json:"transactionInformation"`
			Amount                 amountEnvelope `json:"amount"`
			CreditDebitIndicator   string         `json:"creditDebitIndicator"`
			MerchantCategoryCode   string         `json:"merchantCategoryCode"`
		} `json:"transaction"`
	} `json:"data"`
}

func (b *LiveBackend) FetchTransactions(ctx context.Context, bank domain.Bank, token, consentID, accountID string, limit int) ([]domain.BankTransaction, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions?%s",
		b.baseURL(bank), url.PathEscape(accountID),
		url.Values{"limit": {strconv.Itoa(limit)}}.Encode())

	var resp transactionsResponse
	if err := b.do(ctx, http.MethodGet, endpoint, b.dataHeaders(token, consentID), nil, &resp); err != nil {
		return nil, err
	}

	transactions := make([]domain.BankTransaction, 0, len(resp.Data.Transaction))
	for _, txn := range resp.Data.Transaction {
		date := txn.BookingDateTime
		if date == "" {
			date = time.Now().UTC().Format(time.RFC3339)
		}
		description := txn.TransactionInformation
		if description == "" {
			description = "Транзакция"
		}
		currency := txn.Amount.Currency
		if currency == "" {
			currency = "RUB"
		}
		direction := "debit"
		if txn.CreditDebitIndicator != "" {
			direction = normalizeDirection(txn.CreditDebitIndicator)
		}
		transactions = append(transactions, domain.BankTransaction{
			ID:          txn.TransactionID,
			Date:        date,
			Description: description,
			Amount:      txn.Amount.Amount,
			Currency:    currency,
			Direction:   direction,
			MCCCode:     txn.MerchantCategoryCode,
		})
	}
	return transactions, nil
}

func normalizeDirection(indicator string) string {
	switch indicator {
	case "Credit", "credit", "CREDIT":
		return "credit"
	default:
		return "debit"
	}
}

func (b *LiveBackend) FetchProducts(ctx context.Context, bank domain.Bank, token, productType string) ([]domain.Product, error) {
	endpoint := fmt.Sprintf("%s/products", b.baseURL(bank))
	if productType != "" {
		endpoint += "?" + url.Values{"product_type": {productType}}.Encode()
	}

	headers := map[string]string{"Authorization": "Bearer " + token}

	var raw json.RawMessage
	if err := b.do(ctx, http.MethodGet, endpoint, headers, nil, &raw); err != nil {
		return nil, err
	}
	return decodeProducts(raw)
}

// decodeProducts accepts the three catalog shapes the banks are known to
// return: a bare array, {"data": [...]}, and {"data": {"product": [...]}}.
func decodeProducts(raw json.RawMessage) ([]domain.Product, error) {
	var list []domain.Product
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unexpected product catalog shape: %w", err)
	}
	if err := json.Unmarshal(wrapped.Data, &list); err == nil {
		return list, nil
	}

	var inner struct {
		Product []domain.Product `json:"product"`
	}
	if err := json.Unmarshal(wrapped.Data, &inner); err != nil {
		return nil, fmt.Errorf("unexpected product catalog shape: %w", err)
	}
	return inner.Product, nil
}

func (b *LiveBackend) dataHeaders(token, consentID string) map[string]string {
	return map[string]string{
		"Authorization":     "Bearer " + token,
		"X-Requesting-Bank": b.clientID,
		"X-Consent-Id":      consentID,
	}
}

// do is a helper function to make HTTP requests to a bank API.
func (b *LiveBackend) do(ctx context.Context, method, endpoint string, headers map[string]string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bank API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}

	return nil
}
