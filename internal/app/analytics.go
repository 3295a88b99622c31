/**
 * @description
 * This file implements the spending analytics engine: the monthly overview,
 * the per-category expense breakdown, heuristic insights with a naive
 * forecast, and monthly cashback computation. Analytics are derived from two
 * merged sources: categorized bank transactions from the aggregation cache
 * and the internal payment ledger.
 *
 * The insight rules are fixed-threshold heuristics, not a statistical model;
 * thresholds and cashback rates are product constants.
 *
 * @dependencies
 * - internal/category: MCC and keyword categorization.
 * - internal/domain: Analytics report shapes.
 * - github.com/shopspring/decimal: Exact money arithmetic.
 */

package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/category"
	"github.com/bankhub/aggregation-service/internal/domain"
)

const topCategoriesLimit = 5
const topCategoryTransactionsLimit = 5

var (
	forecastExpenseGrowth = decimal.NewFromFloat(1.05)
	forecastIncomeGrowth  = decimal.NewFromFloat(1.02)
	hundred               = decimal.NewFromInt(100)
	daysPerMonth          = decimal.NewFromInt(30)
)

// cashbackRates are the per-category cashback percentages.
var cashbackRates = map[category.Category]decimal.Decimal{
	category.Groceries:     decimal.NewFromFloat(4),
	category.Restaurants:   decimal.NewFromFloat(7),
	category.Transport:     decimal.NewFromFloat(2.5),
	category.Entertainment: decimal.NewFromFloat(1.5),
	category.Clothing:      decimal.NewFromFloat(2),
	category.Utilities:     decimal.NewFromFloat(0.5),
	category.Health:        decimal.NewFromFloat(1),
	category.Education:     decimal.NewFromFloat(1),
	category.Other:         decimal.NewFromFloat(0.5),
}

// analyticsRow is one normalized money movement from either source.
type analyticsRow struct {
	ID          string
	Date        time.Time
	Description string
	Amount      decimal.Decimal // always a magnitude
	Expense     bool
	Internal    bool // from the payment ledger, not a bank
	Category    category.Category
}

// paymentCategory maps an internal payment type onto a spending category.
func paymentCategory(paymentType domain.PaymentType) category.Category {
	switch paymentType {
	case domain.PaymentUtilities, domain.PaymentElectricity:
		return category.Utilities
	case domain.PaymentMobile, domain.PaymentPhone, domain.PaymentInternet:
		return category.Communications
	case domain.PaymentTV:
		return category.Entertainment
	case domain.PaymentPremium:
		return category.Other
	default:
		return category.Transfers
	}
}

// analyticsRows merges categorized bank transactions with the internal
// payment ledger, optionally narrowed to one bank's accounts. Bank rows with
// unparseable dates are dropped here: every analytics view is month-scoped.
func (s *Service) analyticsRows(ctx context.Context, userID uuid.UUID, bank *domain.Bank) ([]analyticsRow, error) {
	accounts, err := s.visibleActiveAccounts(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	var rows []analyticsRow
	for _, txn := range s.fanOutTransactions(ctx, userID, accounts) {
		ts, ok := txn.ParseDate()
		if !ok {
			continue
		}
		rows = append(rows, analyticsRow{
			ID:          txn.ID,
			Date:        ts,
			Description: txn.Description,
			Amount:      txn.Amount.Abs(),
			Expense:     txn.Direction != "credit",
			Category:    category.Categorize(txn.MCCCode, txn.Description),
		})
	}

	// Internal payments are not tied to a bank; a bank-scoped view shows
	// only that bank's flows.
	if bank != nil {
		return rows, nil
	}
	payments, err := s.repo.ListCompletedPayments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	for _, payment := range payments {
		if payment.CompletedAt == nil {
			continue
		}
		description := ""
		if payment.Description != nil {
			description = *payment.Description
		}
		rows = append(rows, analyticsRow{
			ID:          payment.ID.String(),
			Date:        *payment.CompletedAt,
			Description: description,
			Amount:      payment.Amount.Abs(),
			Expense:     payment.UserID == userID,
			Internal:    true,
			Category:    paymentCategory(payment.Type),
		})
	}
	return rows, nil
}

func sameMonth(ts time.Time, year int, month time.Month) bool {
	return ts.Year() == year && ts.Month() == month
}

func monthTotals(rows []analyticsRow, year int, month time.Month) (income, expenses decimal.Decimal) {
	for _, row := range rows {
		if !sameMonth(row.Date, year, month) {
			continue
		}
		if row.Expense {
			expenses = expenses.Add(row.Amount)
		} else {
			income = income.Add(row.Amount)
		}
	}
	return income, expenses
}

// percentChange returns the percentage change from previous to current, or
// zero when there is no previous baseline.
func percentChange(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred).Round(1)
}

// MonthlyOverview builds the top-level analytics view: aggregate balances
// plus the current month's figures against the previous month and the top
// expense categories. An optional bank filter narrows every part of it.
func (s *Service) MonthlyOverview(ctx context.Context, userID uuid.UUID, bank *domain.Bank) (*domain.MonthlyOverview, error) {
	balances, err := s.AllBalances(ctx, userID, bank)
	if err != nil {
		return nil, err
	}
	rows, err := s.analyticsRows(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	prev := now.AddDate(0, -1, -now.Day()+1) // first day of the previous month
	income, expenses := monthTotals(rows, now.Year(), now.Month())
	prevIncome, prevExpenses := monthTotals(rows, prev.Year(), prev.Month())

	overview := &domain.MonthlyOverview{
		BalanceByCurrency: make(map[string]decimal.Decimal),
		CurrentMonth: domain.MonthFigures{
			Income:        income,
			Expenses:      expenses,
			IncomeChange:  percentChange(income, prevIncome),
			ExpenseChange: percentChange(expenses, prevExpenses),
		},
		TopCategories: []domain.CategoryTotal{},
		AccountsCount: balances.Count,
	}
	for _, total := range balances.Totals {
		overview.BalanceByCurrency[total.Currency] = total.Amount
		overview.TotalBalance = overview.TotalBalance.Add(total.Amount)
	}

	byCategory := make(map[category.Category]decimal.Decimal)
	for _, row := range rows {
		if row.Expense && sameMonth(row.Date, now.Year(), now.Month()) {
			byCategory[row.Category] = byCategory[row.Category].Add(row.Amount)
		}
	}
	for cat, amount := range byCategory {
		percentage := decimal.Zero
		if !expenses.IsZero() {
			percentage = amount.Div(expenses).Mul(hundred).Round(1)
		}
		overview.TopCategories = append(overview.TopCategories, domain.CategoryTotal{
			Category:     string(cat),
			CategoryName: category.DisplayName(cat),
			Amount:       amount,
			Percentage:   percentage,
		})
	}
	sort.Slice(overview.TopCategories, func(i, j int) bool {
		return overview.TopCategories[i].Amount.GreaterThan(overview.TopCategories[j].Amount)
	})
	if len(overview.TopCategories) > topCategoriesLimit {
		overview.TopCategories = overview.TopCategories[:topCategoriesLimit]
	}
	return overview, nil
}

// monthArg parses an optional YYYY-MM month selector, defaulting to the
// current month.
func (s *Service) monthArg(month string) (int, time.Month, string, error) {
	if month == "" {
		now := s.now().UTC()
		return now.Year(), now.Month(), now.Format("2006-01"), nil
	}
	ts, err := time.Parse("2006-01", month)
	if err != nil {
		return 0, 0, "", fmt.Errorf("invalid month %q: %w", month, err)
	}
	return ts.Year(), ts.Month(), month, nil
}

// CategoryBreakdown reports the month's expenses per category, with each
// category's largest transactions.
func (s *Service) CategoryBreakdown(ctx context.Context, userID uuid.UUID, month string) ([]domain.CategoryBreakdownEntry, error) {
	year, m, _, err := s.monthArg(month)
	if err != nil {
		return nil, err
	}
	rows, err := s.analyticsRows(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	perCategory := make(map[category.Category][]analyticsRow)
	var total decimal.Decimal
	for _, row := range rows {
		if !row.Expense || !sameMonth(row.Date, year, m) {
			continue
		}
		perCategory[row.Category] = append(perCategory[row.Category], row)
		total = total.Add(row.Amount)
	}

	entries := []domain.CategoryBreakdownEntry{}
	for cat, catRows := range perCategory {
		var amount decimal.Decimal
		for _, row := range catRows {
			amount = amount.Add(row.Amount)
		}
		sort.Slice(catRows, func(i, j int) bool {
			return catRows[i].Amount.GreaterThan(catRows[j].Amount)
		})
		top := catRows
		if len(top) > topCategoryTransactionsLimit {
			top = top[:topCategoryTransactionsLimit]
		}
		topTransactions := make([]domain.CategoryTransaction, 0, len(top))
		for _, row := range top {
			topTransactions = append(topTransactions, domain.CategoryTransaction{
				ID:          row.ID,
				Date:        row.Date.Format(time.RFC3339),
				Description: row.Description,
				Amount:      row.Amount,
			})
		}
		percentage := decimal.Zero
		if !total.IsZero() {
			percentage = amount.Div(total).Mul(hundred).Round(1)
		}
		entries = append(entries, domain.CategoryBreakdownEntry{
			Category:        string(cat),
			CategoryName:    category.DisplayName(cat),
			Amount:          amount,
			Count:           len(catRows),
			Percentage:      percentage,
			TopTransactions: topTransactions,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Amount.GreaterThan(entries[j].Amount)
	})
	return entries, nil
}

// AdvancedInsights derives headline metrics, threshold-based insight
// messages, and a naive next-month forecast from the current month's rows.
// An optional bank filter narrows the source accounts.
func (s *Service) AdvancedInsights(ctx context.Context, userID uuid.UUID, bank *domain.Bank) (*domain.AdvancedInsights, error) {
	balances, err := s.AllBalances(ctx, userID, bank)
	if err != nil {
		return nil, err
	}
	rows, err := s.analyticsRows(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	prev := now.AddDate(0, -1, -now.Day()+1)
	income, expenses := monthTotals(rows, now.Year(), now.Month())
	prevIncome, prevExpenses := monthTotals(rows, prev.Year(), prev.Month())
	expenseChange := percentChange(expenses, prevExpenses)
	incomeChange := percentChange(income, prevIncome)

	var totalBalance decimal.Decimal
	for _, total := range balances.Totals {
		totalBalance = totalBalance.Add(total.Amount)
	}

	report := &domain.AdvancedInsights{
		Metrics: domain.InsightMetrics{
			AvgDailyExpense: expenses.Div(daysPerMonth).Round(2),
			AvgDailyIncome:  income.Div(daysPerMonth).Round(2),
			TotalBalance:    totalBalance,
		},
		Insights:        []domain.InsightMessage{},
		Warnings:        []domain.InsightMessage{},
		Recommendations: []domain.InsightMessage{},
	}
	if !income.IsZero() {
		report.Metrics.SavingsRate = income.Sub(expenses).Div(income).Mul(hundred).Round(1)
		report.Metrics.ExpenseToIncomeRatio = expenses.Div(income).Mul(hundred).Round(1)
	}

	savingsRate := report.Metrics.SavingsRate
	switch {
	case savingsRate.IsNegative():
		report.Warnings = append(report.Warnings, domain.InsightMessage{
			Type:    "critical",
			Title:   "Отрицательный баланс",
			Message: fmt.Sprintf("Ваши расходы превышают доходы на %s%%. Рекомендуем пересмотреть бюджет.", savingsRate.Abs()),
			Action:  "Пересмотреть расходы",
		})
	case !income.IsZero() && savingsRate.LessThan(decimal.NewFromInt(10)):
		report.Warnings = append(report.Warnings, domain.InsightMessage{
			Type:    "warning",
			Title:   "Низкая норма сбережений",
			Message: fmt.Sprintf("Вы откладываете только %s%% дохода. Рекомендуется откладывать минимум 20%%.", savingsRate),
			Action:  "Увеличить сбережения",
		})
	case savingsRate.GreaterThanOrEqual(decimal.NewFromInt(20)):
		report.Insights = append(report.Insights, domain.InsightMessage{
			Type:    "positive",
			Title:   "Отличная норма сбережений",
			Message: fmt.Sprintf("Вы откладываете %s%% дохода. Это отличный показатель!", savingsRate),
		})
	}

	if expenseChange.GreaterThan(decimal.NewFromInt(15)) {
		report.Warnings = append(report.Warnings, domain.InsightMessage{
			Type:    "warning",
			Title:   "Рост расходов",
			Message: fmt.Sprintf("Ваши расходы выросли на %s%% по сравнению с прошлым месяцем.", expenseChange),
			Action:  "Проанализировать причины роста",
		})
	} else if expenseChange.LessThan(decimal.NewFromInt(-10)) {
		report.Insights = append(report.Insights, domain.InsightMessage{
			Type:    "positive",
			Title:   "Снижение расходов",
			Message: fmt.Sprintf("Отлично! Ваши расходы снизились на %s%%.", expenseChange.Abs()),
		})
	}
	if incomeChange.GreaterThan(decimal.NewFromInt(10)) {
		report.Insights = append(report.Insights, domain.InsightMessage{
			Type:    "positive",
			Title:   "Рост доходов",
			Message: fmt.Sprintf("Ваши доходы выросли на %s%%!", incomeChange),
		})
	} else if incomeChange.LessThan(decimal.NewFromInt(-10)) {
		report.Warnings = append(report.Warnings, domain.InsightMessage{
			Type:    "warning",
			Title:   "Снижение доходов",
			Message: fmt.Sprintf("Ваши доходы снизились на %s%%. Рекомендуем пересмотреть бюджет.", incomeChange.Abs()),
			Action:  "Адаптировать расходы",
		})
	}

	// Per-category shares of the month's expenses, largest first.
	byCategory := make(map[category.Category]decimal.Decimal)
	for _, row := range rows {
		if row.Expense && sameMonth(row.Date, now.Year(), now.Month()) {
			byCategory[row.Category] = byCategory[row.Category].Add(row.Amount)
		}
	}
	type categoryShare struct {
		cat     category.Category
		amount  decimal.Decimal
		percent decimal.Decimal
	}
	shares := make([]categoryShare, 0, len(byCategory))
	for cat, amount := range byCategory {
		percent := decimal.Zero
		if !expenses.IsZero() {
			percent = amount.Div(expenses).Mul(hundred).Round(1)
		}
		shares = append(shares, categoryShare{cat: cat, amount: amount, percent: percent})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].amount.GreaterThan(shares[j].amount) })

	if len(shares) > 0 && shares[0].percent.GreaterThan(decimal.NewFromInt(50)) {
		report.Recommendations = append(report.Recommendations, domain.InsightMessage{
			Type:    "suggestion",
			Title:   "Концентрация расходов",
			Message: fmt.Sprintf("Категория «%s» занимает %s%% ваших расходов. Возможно, стоит диверсифицировать траты.", category.DisplayName(shares[0].cat), shares[0].percent),
			Action:  "Проанализировать категорию",
		})
	}
	for i, share := range shares {
		if i >= 3 {
			break
		}
		if share.percent.GreaterThan(decimal.NewFromInt(30)) {
			report.Recommendations = append(report.Recommendations, domain.InsightMessage{
				Type:    "info",
				Title:   fmt.Sprintf("Категория: %s", category.DisplayName(share.cat)),
				Message: fmt.Sprintf("Составляет %s%% расходов (%s ₽).", share.percent, share.amount.StringFixed(2)),
				Action:  "Детальный анализ",
			})
		}
	}

	forecastExpenses := expenses.Mul(forecastExpenseGrowth).Round(2)
	forecastIncome := income.Mul(forecastIncomeGrowth).Round(2)
	report.Forecast = domain.MonthForecast{
		Expenses: forecastExpenses,
		Income:   forecastIncome,
		Balance:  forecastIncome.Sub(forecastExpenses).Round(2),
	}
	return report, nil
}

// Cashback computes the month's cashback per category and in total.
func (s *Service) Cashback(ctx context.Context, userID uuid.UUID, month string) (*domain.CashbackReport, error) {
	year, m, label, err := s.monthArg(month)
	if err != nil {
		return nil, err
	}
	rows, err := s.analyticsRows(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		amount decimal.Decimal
		count  int
	}
	buckets := make(map[category.Category]*bucket)
	var totalSpent decimal.Decimal
	count := 0
	for _, row := range rows {
		if !row.Expense || !sameMonth(row.Date, year, m) {
			continue
		}
		// Cashback accrues on card spending at the banks. In-app transfers
		// and bill payments earn nothing.
		if row.Internal {
			continue
		}
		b := buckets[row.Category]
		if b == nil {
			b = &bucket{}
			buckets[row.Category] = b
		}
		b.amount = b.amount.Add(row.Amount)
		b.count++
		totalSpent = totalSpent.Add(row.Amount)
		count++
	}

	report := &domain.CashbackReport{
		Month:             label,
		TransactionsCount: count,
		Categories:        []domain.CashbackCategory{},
	}
	for cat, b := range buckets {
		rate, ok := cashbackRates[cat]
		if !ok {
			rate = cashbackRates[category.Other]
		}
		cashback := b.amount.Mul(rate).Div(hundred).Round(2)
		report.TotalCashback = report.TotalCashback.Add(cashback)
		report.Categories = append(report.Categories, domain.CashbackCategory{
			Category: string(cat),
			Amount:   b.amount,
			Cashback: cashback,
			Count:    b.count,
			Rate:     rate,
		})
	}
	if !totalSpent.IsZero() {
		report.AverageRate = report.TotalCashback.Div(totalSpent).Mul(hundred).Round(2)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		return report.Categories[i].Cashback.GreaterThan(report.Categories[j].Cashback)
	})
	return report, nil
}
