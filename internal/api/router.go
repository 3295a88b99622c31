/**
 * @description
 * This file sets up the HTTP router for the aggregation-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies any necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes creates and returns the router for the aggregation service.
func Routes(h *Handlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Account directory
		r.Get("/accounts", h.ListAccountsHandler)
		r.Post("/accounts", h.CreateAccountHandler)
		r.Get("/accounts/priority", h.PriorityAccountsHandler)
		r.Post("/accounts/{accountID}/attach", h.AttachAccountHandler)
		r.Put("/accounts/{accountID}/name", h.RenameAccountHandler)
		r.Put("/accounts/{accountID}/priority", h.SetAccountPriorityHandler)
		r.Put("/accounts/{accountID}/visibility", h.ToggleAccountVisibilityHandler)

		// Per-account data
		r.Get("/accounts/{accountID}/balance", h.AccountBalanceHandler)
		r.Get("/accounts/{accountID}/transactions", h.AccountTransactionsHandler)
		r.Get("/accounts/{accountID}/statement", h.AccountStatementHandler)
		r.Post("/accounts/{accountID}/sync", h.SyncAccountHandler)

		// Cross-account aggregation
		r.Get("/accounts/balances", h.AggregatedBalancesHandler)
		r.Get("/accounts/transactions", h.AggregatedTransactionsHandler)
		r.Get("/accounts/statements/all", h.CombinedStatementHandler)

		// Bank-facing operations
		r.Post("/consents", h.CreateConsentHandler)
		r.Get("/banks/{bank}/products", h.BankProductsHandler)

		// Internal payments
		r.Post("/payments/transfer", h.TransferByPhoneHandler)
		r.Post("/payments/card", h.CardTransferHandler)
		r.Post("/payments/utility", h.UtilityPaymentHandler)
		r.Post("/payments/premium", h.PremiumPurchaseHandler)
		r.Get("/payments", h.PaymentHistoryHandler)

		// Analytics
		r.Get("/analytics/overview", h.MonthlyOverviewHandler)
		r.Get("/analytics/categories", h.CategoryBreakdownHandler)
		r.Get("/analytics/insights", h.AdvancedInsightsHandler)
		r.Get("/analytics/cashback", h.CashbackHandler)
	})

	return r
}
