package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/category"
	"github.com/bankhub/aggregation-service/internal/domain"
)

func pinClock(service *Service, ts time.Time) {
	service.now = func() time.Time { return ts }
}

func TestMonthlyOverviewFigures(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(50000), Currency: "RUB"}

	backend.txns["v1"] = []domain.BankTransaction{
		{ID: "salary", Date: "2026-03-05T10:00:00Z", Description: "Зарплата", Amount: decimal.NewFromInt(80000), Direction: "credit"},
		{ID: "food", Date: "2026-03-07T18:00:00Z", Description: "Покупка", Amount: decimal.NewFromInt(3000), Direction: "debit", MCCCode: "5411"},
		{ID: "cafe", Date: "2026-03-09T13:00:00Z", Description: "Кафе", Amount: decimal.NewFromInt(1000), Direction: "debit", MCCCode: "5812"},
		// Previous month baseline.
		{ID: "prev", Date: "2026-02-10T12:00:00Z", Description: "Покупка", Amount: decimal.NewFromInt(2000), Direction: "debit", MCCCode: "5411"},
	}

	service, _ := newTestService(repo, backend)
	pinClock(service, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	overview, err := service.MonthlyOverview(context.Background(), userID, nil)
	if err != nil {
		t.Fatalf("MonthlyOverview returned error: %v", err)
	}
	if !overview.TotalBalance.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected total balance 50000, got %s", overview.TotalBalance)
	}
	if !overview.CurrentMonth.Income.Equal(decimal.NewFromInt(80000)) {
		t.Fatalf("expected income 80000, got %s", overview.CurrentMonth.Income)
	}
	if !overview.CurrentMonth.Expenses.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("expected expenses 4000, got %s", overview.CurrentMonth.Expenses)
	}
	// 2000 -> 4000 is a 100% rise over the previous month.
	if !overview.CurrentMonth.ExpenseChange.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected expense change 100%%, got %s", overview.CurrentMonth.ExpenseChange)
	}
	if len(overview.TopCategories) == 0 || overview.TopCategories[0].Category != string(category.Groceries) {
		t.Fatalf("expected groceries as the top category, got %+v", overview.TopCategories)
	}
	if !overview.TopCategories[0].Percentage.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected groceries at 75%% of expenses, got %s", overview.TopCategories[0].Percentage)
	}
}

func TestCategoryBreakdownCapsTopTransactions(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)

	var txns []domain.BankTransaction
	for i := 0; i < 7; i++ {
		txns = append(txns, domain.BankTransaction{
			ID:        string(rune('a' + i)),
			Date:      time.Date(2026, 3, 2+i, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
			Amount:    decimal.NewFromInt(int64(100 * (i + 1))),
			Direction: "debit",
			MCCCode:   "5411",
		})
	}
	backend.txns["v1"] = txns

	service, _ := newTestService(repo, backend)
	pinClock(service, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))

	entries, err := service.CategoryBreakdown(context.Background(), userID, "2026-03")
	if err != nil {
		t.Fatalf("CategoryBreakdown returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single category, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Count != 7 || !entry.Amount.Equal(decimal.NewFromInt(2800)) {
		t.Fatalf("expected 7 rows totalling 2800, got count=%d amount=%s", entry.Count, entry.Amount)
	}
	if len(entry.TopTransactions) != topCategoryTransactionsLimit {
		t.Fatalf("expected top transactions capped at %d, got %d", topCategoryTransactionsLimit, len(entry.TopTransactions))
	}
	if !entry.TopTransactions[0].Amount.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("expected the largest row first, got %s", entry.TopTransactions[0].Amount)
	}
}

func TestCashbackRatesPerCategory(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)

	backend.txns["v1"] = []domain.BankTransaction{
		{ID: "g", Date: "2026-03-03T10:00:00Z", Amount: decimal.NewFromInt(1000), Direction: "debit", MCCCode: "5411"},
		{ID: "r", Date: "2026-03-04T19:00:00Z", Amount: decimal.NewFromInt(500), Direction: "debit", MCCCode: "5812"},
		// Income never earns cashback.
		{ID: "s", Date: "2026-03-05T10:00:00Z", Amount: decimal.NewFromInt(90000), Direction: "credit"},
	}

	service, _ := newTestService(repo, backend)
	report, err := service.Cashback(context.Background(), userID, "2026-03")
	if err != nil {
		t.Fatalf("Cashback returned error: %v", err)
	}
	if report.Month != "2026-03" || report.TransactionsCount != 2 {
		t.Fatalf("expected 2 expense rows for 2026-03, got %+v", report)
	}
	// 4% of 1000 plus 7% of 500.
	if !report.TotalCashback.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected total cashback 75, got %s", report.TotalCashback)
	}
	if report.Categories[0].Category != string(category.Groceries) {
		t.Fatalf("expected the largest cashback bucket first, got %+v", report.Categories[0])
	}
	// 75 / 1500 = 5% effective rate.
	if !report.AverageRate.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected average rate 5, got %s", report.AverageRate)
	}
}

func TestMonthlyOverviewSumsSignedAmountsAsMagnitudes(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)

	// Banks disagree on debit signs: some report outflows negative.
	backend.txns["v1"] = []domain.BankTransaction{
		{ID: "neg", Date: "2026-03-03T10:00:00Z", Amount: decimal.NewFromInt(-500), Direction: "debit", MCCCode: "5411"},
		{ID: "pos", Date: "2026-03-04T10:00:00Z", Amount: decimal.NewFromInt(1000), Direction: "debit", MCCCode: "5411"},
	}

	service, _ := newTestService(repo, backend)
	pinClock(service, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	overview, err := service.MonthlyOverview(context.Background(), userID, nil)
	if err != nil {
		t.Fatalf("MonthlyOverview returned error: %v", err)
	}
	if !overview.CurrentMonth.Expenses.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected expenses 1500 regardless of sign, got %s", overview.CurrentMonth.Expenses)
	}
	if len(overview.TopCategories) != 1 || !overview.TopCategories[0].Amount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected groceries total 1500, got %+v", overview.TopCategories)
	}
}

func TestCashbackExcludesInternalPayments(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)

	backend.txns["v1"] = []domain.BankTransaction{
		{ID: "g", Date: "2026-03-03T10:00:00Z", Amount: decimal.NewFromInt(1000), Direction: "debit", MCCCode: "5411"},
	}
	completedAt := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
	repo.payments = append(repo.payments, domain.Payment{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        domain.PaymentUtilities,
		Amount:      decimal.NewFromInt(2000),
		Currency:    "RUB",
		Status:      domain.PaymentStatusCompleted,
		CompletedAt: &completedAt,
	})

	service, _ := newTestService(repo, backend)
	report, err := service.Cashback(context.Background(), userID, "2026-03")
	if err != nil {
		t.Fatalf("Cashback returned error: %v", err)
	}
	if report.TransactionsCount != 1 {
		t.Fatalf("expected only the bank row to accrue cashback, got %d rows", report.TransactionsCount)
	}
	// 4% of the 1000 groceries purchase and nothing for the bill payment.
	if !report.TotalCashback.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected total cashback 40, got %s", report.TotalCashback)
	}
}

func TestAdvancedInsightsOverspendWarningAndForecast(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	userID := uuid.New()
	addAccount(repo, userID, domain.BankVBank, "v1", 1)
	backend.balances["v1"] = domain.Balance{Amount: decimal.NewFromInt(10000), Currency: "RUB"}

	backend.txns["v1"] = []domain.BankTransaction{
		{ID: "salary", Date: "2026-03-01T10:00:00Z", Amount: decimal.NewFromInt(1000), Direction: "credit"},
		{ID: "spend", Date: "2026-03-02T10:00:00Z", Amount: decimal.NewFromInt(2000), Direction: "debit", MCCCode: "5411"},
	}

	service, _ := newTestService(repo, backend)
	pinClock(service, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	report, err := service.AdvancedInsights(context.Background(), userID, nil)
	if err != nil {
		t.Fatalf("AdvancedInsights returned error: %v", err)
	}
	if len(report.Warnings) == 0 || report.Warnings[0].Type != "critical" {
		t.Fatalf("expected a critical overspend warning, got %+v", report.Warnings)
	}
	if !report.Forecast.Expenses.Equal(decimal.NewFromInt(2100)) {
		t.Fatalf("expected expense forecast 2100, got %s", report.Forecast.Expenses)
	}
	if !report.Forecast.Income.Equal(decimal.NewFromInt(1020)) {
		t.Fatalf("expected income forecast 1020, got %s", report.Forecast.Income)
	}
	if !report.Forecast.Balance.Equal(decimal.NewFromInt(-1080)) {
		t.Fatalf("expected forecast balance -1080, got %s", report.Forecast.Balance)
	}
	if !report.Metrics.AvgDailyExpense.Equal(decimal.NewFromFloat(66.67)) {
		t.Fatalf("expected average daily expense 66.67, got %s", report.Metrics.AvgDailyExpense)
	}
	if !report.Metrics.SavingsRate.Equal(decimal.NewFromInt(-100)) {
		t.Fatalf("expected savings rate -100, got %s", report.Metrics.SavingsRate)
	}
}

func TestPaymentCategoryMapping(t *testing.T) {
	cases := []struct {
		paymentType domain.PaymentType
		want        category.Category
	}{
		{domain.PaymentUtilities, category.Utilities},
		{domain.PaymentElectricity, category.Utilities},
		{domain.PaymentMobile, category.Communications},
		{domain.PaymentInternet, category.Communications},
		{domain.PaymentTV, category.Entertainment},
		{domain.PaymentPremium, category.Other},
		{domain.PaymentToPerson, category.Transfers},
		{domain.PaymentCardToCard, category.Transfers},
	}
	for _, tc := range cases {
		if got := paymentCategory(tc.paymentType); got != tc.want {
			t.Errorf("paymentCategory(%s) = %s, want %s", tc.paymentType, got, tc.want)
		}
	}
}
