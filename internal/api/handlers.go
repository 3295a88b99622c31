/**
 * @description
 * This file contains the HTTP handlers for the aggregation-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and
 *   custom errors.
 * - pkg/bankapi: Gateway error classification.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bankhub/aggregation-service/internal/app"
	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/internal/store"
	"github.com/bankhub/aggregation-service/pkg/bankapi"
)

const (
	paymentRateLimit  = 10
	paymentRateWindow = time.Minute
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	limiter *app.RedisPaymentRateLimiter
}

// NewHandlers creates a new instance of Handlers. limiter may be nil, which
// disables payment rate limiting.
func NewHandlers(service *app.Service, limiter *app.RedisPaymentRateLimiter) *Handlers {
	return &Handlers{service: service, limiter: limiter}
}

// authedUser pulls the authenticated user id off the context, responding with
// an error when the middleware did not run.
func (h *Handlers) authedUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

// parseBank accepts a bank name ("vbank") or its numeric id.
func parseBank(value string) (domain.Bank, error) {
	if bank, ok := domain.BankFromName(value); ok {
		return bank, nil
	}
	if id, err := strconv.Atoi(value); err == nil {
		bank := domain.Bank(id)
		if bank.Valid() {
			return bank, nil
		}
	}
	return 0, fmt.Errorf("unknown bank %q", value)
}

// optionalBank parses the ?bank= filter; absent means all banks.
func (h *Handlers) optionalBank(w http.ResponseWriter, r *http.Request) (*domain.Bank, bool) {
	value := r.URL.Query().Get("bank")
	if value == "" {
		return nil, true
	}
	bank, err := parseBank(value)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &bank, true
}

func (h *Handlers) pathAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return uuid.Nil, false
	}
	return accountID, true
}

// handleServiceError maps service and store errors onto HTTP statuses.
func (h *Handlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	log.Printf("level=warn component=api endpoint=%s outcome=failed err=%v", endpoint, err)
	switch {
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAccountOwned), errors.Is(err, store.ErrDuplicatePayment):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrSelfTransfer),
		errors.Is(err, app.ErrNoActiveAccounts), errors.Is(err, app.ErrNoBankAccounts):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bankapi.ErrBankUnavailable):
		h.writeError(w, http.StatusBadGateway, "Bank is temporarily unavailable")
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// allowPayment consumes one payment rate-limit slot for the user.
func (h *Handlers) allowPayment(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	if h.limiter == nil {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "payments", userID.String(), paymentRateLimit, paymentRateWindow)
	if err != nil {
		// A broken limiter must not block payments.
		log.Printf("level=warn component=api msg=\"rate limiter unavailable\" err=%v", err)
		return true
	}
	if count > paymentRateLimit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many payment attempts, slow down")
		return false
	}
	return true
}

// ListAccountsHandler returns the user's linked accounts, optionally filtered
// by ?bank=.
func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	bank, ok := h.optionalBank(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.GetUserAccounts(r.Context(), userID, bank)
	if err != nil {
		h.handleServiceError(w, "list_accounts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts, "count": len(accounts)})
}

type createAccountRequest struct {
	Bank string `json:"bank"`
}

// CreateAccountHandler links the user's first account at a bank.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	bank, err := parseBank(req.Bank)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := h.service.CreateAccount(r.Context(), userID, bank)
	if err != nil {
		h.handleServiceError(w, "create_account", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// AttachAccountHandler claims an unowned directory entry for the user.
func (h *Handlers) AttachAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	account, err := h.service.AttachAccount(r.Context(), accountID, userID)
	if err != nil {
		h.handleServiceError(w, "attach_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

type renameAccountRequest struct {
	Name string `json:"name"`
}

// RenameAccountHandler sets the account's display name.
func (h *Handlers) RenameAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	var req renameAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if err := h.service.RenameAccount(r.Context(), accountID, userID, req.Name); err != nil {
		h.handleServiceError(w, "rename_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "renamed", "name": req.Name})
}

type accountPriorityRequest struct {
	Priority int `json:"priority"`
}

// SetAccountPriorityHandler updates the payment source ranking.
func (h *Handlers) SetAccountPriorityHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	var req accountPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Priority < 1 {
		h.writeError(w, http.StatusBadRequest, "Priority must be a positive number")
		return
	}
	if err := h.service.SetAccountPriority(r.Context(), accountID, userID, req.Priority); err != nil {
		h.handleServiceError(w, "set_account_priority", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "updated", "priority": req.Priority})
}

// ToggleAccountVisibilityHandler flips the hidden flag.
func (h *Handlers) ToggleAccountVisibilityHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	hidden, err := h.service.ToggleAccountVisibility(r.Context(), accountID, userID)
	if err != nil {
		h.handleServiceError(w, "toggle_account_visibility", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "updated", "isHidden": hidden})
}

// AccountBalanceHandler returns the (possibly cached) balance for one account.
func (h *Handlers) AccountBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), userID, accountID)
	if err != nil {
		h.handleServiceError(w, "account_balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// AccountTransactionsHandler returns the (possibly cached) transaction list
// for one account.
func (h *Handlers) AccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	transactions, err := h.service.GetTransactions(r.Context(), userID, accountID)
	if err != nil {
		h.handleServiceError(w, "account_transactions", err)
		return
	}
	if transactions == nil {
		transactions = []domain.BankTransaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions, "count": len(transactions)})
}

// SyncAccountHandler force-refreshes one account's cached data from the bank.
func (h *Handlers) SyncAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	result, err := h.service.ForceSync(r.Context(), userID, accountID)
	if err != nil {
		h.handleServiceError(w, "sync_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// AccountStatementHandler builds the per-account statement for an optional
// ?start_date=&end_date= range (YYYY-MM-DD).
func (h *Handlers) AccountStatementHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathAccountID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	statement, err := h.service.AccountStatement(r.Context(), userID, accountID, query.Get("start_date"), query.Get("end_date"))
	if err != nil {
		h.handleServiceError(w, "account_statement", err)
		return
	}
	h.writeJSON(w, http.StatusOK, statement)
}

// PriorityAccountsHandler lists the user's active accounts in debit-priority
// order.
func (h *Handlers) PriorityAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.PriorityAccounts(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "priority_accounts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts, "count": len(accounts)})
}

// AggregatedBalancesHandler returns the merged multi-account balance view,
// optionally filtered by ?bank=.
func (h *Handlers) AggregatedBalancesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	bank, ok := h.optionalBank(w, r)
	if !ok {
		return
	}
	balances, err := h.service.AllBalances(r.Context(), userID, bank)
	if err != nil {
		h.handleServiceError(w, "aggregated_balances", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balances)
}

// AggregatedTransactionsHandler returns one page of the merged cross-account
// history, optionally filtered by ?bank= and bounded by
// ?start_date=&end_date= (YYYY-MM-DD).
func (h *Handlers) AggregatedTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	bank, ok := h.optionalBank(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	var from, to *time.Time
	if value := query.Get("start_date"); value != "" {
		ts, err := time.Parse("2006-01-02", value)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid start_date, expected YYYY-MM-DD")
			return
		}
		from = &ts
	}
	if value := query.Get("end_date"); value != "" {
		ts, err := time.Parse("2006-01-02", value)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid end_date, expected YYYY-MM-DD")
			return
		}
		end := ts.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	offset, ok := h.queryInt(w, query.Get("offset"), 0, "Invalid offset")
	if !ok {
		return
	}
	limit, ok := h.queryInt(w, query.Get("limit"), 0, "Invalid limit")
	if !ok {
		return
	}

	page, err := h.service.AllTransactions(r.Context(), userID, bank, from, to, offset, limit)
	if err != nil {
		h.handleServiceError(w, "aggregated_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// CombinedStatementHandler builds the all-accounts statement.
func (h *Handlers) CombinedStatementHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	statement, err := h.service.CombinedStatement(r.Context(), userID, query.Get("start_date"), query.Get("end_date"))
	if err != nil {
		h.handleServiceError(w, "combined_statement", err)
		return
	}
	h.writeJSON(w, http.StatusOK, statement)
}

type consentRequest struct {
	Bank string `json:"bank"`
}

// CreateConsentHandler obtains (or reuses) a consent grant at a bank.
func (h *Handlers) CreateConsentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	bank, err := parseBank(req.Bank)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	consentID, err := h.service.RequestConsent(r.Context(), userID, bank)
	if err != nil {
		h.handleServiceError(w, "create_consent", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"consentId": consentID, "bank": bank.Name()})
}

// BankProductsHandler returns a bank's product catalog, optionally filtered
// by ?type=.
func (h *Handlers) BankProductsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	bank, err := parseBank(chi.URLParam(r, "bank"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	products, err := h.service.Products(r.Context(), userID, bank, r.URL.Query().Get("type"))
	if err != nil {
		h.handleServiceError(w, "bank_products", err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"products": products, "count": len(products), "bank": bank.Name()})
}

// TransferByPhoneHandler handles person-to-person transfers addressed by phone.
func (h *Handlers) TransferByPhoneHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	if !h.allowPayment(w, r, userID) {
		return
	}
	var req domain.TransferByPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	payment, err := h.service.TransferByPhone(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, "transfer_by_phone", err)
		return
	}
	log.Printf("level=info component=api endpoint=transfer_by_phone outcome=completed payment_id=%s user_id=%s", payment.ID, userID)
	h.writeJSON(w, http.StatusCreated, payment)
}

// CardTransferHandler handles transfers to an external card or account number.
func (h *Handlers) CardTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	if !h.allowPayment(w, r, userID) {
		return
	}
	var req domain.CardTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.ToAccount == "" {
		h.writeError(w, http.StatusBadRequest, "Destination account is required")
		return
	}
	payment, err := h.service.TransferToCard(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, "card_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

// UtilityPaymentHandler handles utility and service bill payments.
func (h *Handlers) UtilityPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	if !h.allowPayment(w, r, userID) {
		return
	}
	var req domain.UtilityPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Provider == "" || req.AccountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Provider and account number are required")
		return
	}
	payment, err := h.service.PayUtility(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, "utility_payment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

// PremiumPurchaseHandler handles premium subscription purchases.
func (h *Handlers) PremiumPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	if !h.allowPayment(w, r, userID) {
		return
	}
	var req domain.PremiumPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	payment, err := h.service.PurchasePremium(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, "premium_purchase", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

// PaymentHistoryHandler returns the user's payment ledger, newest first.
func (h *Handlers) PaymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, ok := h.queryInt(w, query.Get("limit"), 0, "Invalid limit")
	if !ok {
		return
	}
	offset, ok := h.queryInt(w, query.Get("offset"), 0, "Invalid offset")
	if !ok {
		return
	}
	payments, err := h.service.PaymentHistory(r.Context(), userID, limit, offset)
	if err != nil {
		h.handleServiceError(w, "payment_history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payments": payments, "count": len(payments)})
}

// MonthlyOverviewHandler returns the top-level analytics view, optionally
// narrowed by ?bank=.
func (h *Handlers) MonthlyOverviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	bank, ok := h.optionalBank(w, r)
	if !ok {
		return
	}
	overview, err := h.service.MonthlyOverview(r.Context(), userID, bank)
	if err != nil {
		h.handleServiceError(w, "analytics_overview", err)
		return
	}
	h.writeJSON(w, http.StatusOK, overview)
}

// CategoryBreakdownHandler reports per-category expenses for ?month=YYYY-MM.
func (h *Handlers) CategoryBreakdownHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	entries, err := h.service.CategoryBreakdown(r.Context(), userID, r.URL.Query().Get("month"))
	if err != nil {
		h.handleServiceError(w, "analytics_categories", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"categories": entries, "count": len(entries)})
}

// AdvancedInsightsHandler returns threshold-based insights and the naive
// next-month forecast, optionally narrowed by ?bank=.
func (h *Handlers) AdvancedInsightsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	bank, ok := h.optionalBank(w, r)
	if !ok {
		return
	}
	insights, err := h.service.AdvancedInsights(r.Context(), userID, bank)
	if err != nil {
		h.handleServiceError(w, "analytics_insights", err)
		return
	}
	h.writeJSON(w, http.StatusOK, insights)
}

// CashbackHandler computes the cashback report for ?month=YYYY-MM.
func (h *Handlers) CashbackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	report, err := h.service.Cashback(r.Context(), userID, r.URL.Query().Get("month"))
	if err != nil {
		h.handleServiceError(w, "analytics_cashback", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// queryInt parses an optional non-negative integer query parameter.
func (h *Handlers) queryInt(w http.ResponseWriter, value string, fallback int, message string) (int, bool) {
	if value == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		h.writeError(w, http.StatusBadRequest, message)
		return 0, false
	}
	return parsed, true
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
