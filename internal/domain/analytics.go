package domain

import "github.com/shopspring/decimal"

// CategoryTotal is one category's share of current-month expenses.
type CategoryTotal struct {
	Category     string          `json:"category"`
	CategoryName string          `json:"categoryName"`
	Amount       decimal.Decimal `json:"amount"`
	Percentage   decimal.Decimal `json:"percentage"`
}

// MonthFigures carries one calendar month's income/expense totals and the
// change versus the previous month.
type MonthFigures struct {
	Expenses      decimal.Decimal `json:"expenses"`
	Income        decimal.Decimal `json:"income"`
	ExpenseChange decimal.Decimal `json:"expenseChange"`
	IncomeChange  decimal.Decimal `json:"incomeChange"`
}

// MonthlyOverview is the top-level analytics view: balances plus
// month-over-month income/expense figures and the top expense categories.
type MonthlyOverview struct {
	TotalBalance      decimal.Decimal            `json:"totalBalance"`
	BalanceByCurrency map[string]decimal.Decimal `json:"balanceByCurrency"`
	CurrentMonth      MonthFigures               `json:"currentMonth"`
	TopCategories     []CategoryTotal            `json:"topCategories"`
	AccountsCount     int                        `json:"accountsCount"`
}

// CategoryTransaction is one of a category's largest transactions in the
// breakdown view.
type CategoryTransaction struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// CategoryBreakdownEntry is the full per-category expense report.
type CategoryBreakdownEntry struct {
	Category        string                `json:"category"`
	CategoryName    string                `json:"categoryName"`
	Amount          decimal.Decimal       `json:"amount"`
	Count           int                   `json:"count"`
	Percentage      decimal.Decimal       `json:"percentage"`
	TopTransactions []CategoryTransaction `json:"topTransactions"`
}

// InsightMessage is a single generated insight, warning or recommendation.
type InsightMessage struct {
	Type    string `json:"type"` // critical, warning, positive, suggestion, info
	Title   string `json:"title"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// InsightMetrics are the derived headline figures behind the insights.
type InsightMetrics struct {
	SavingsRate          decimal.Decimal `json:"savingsRate"`
	AvgDailyExpense      decimal.Decimal `json:"avgDailyExpense"`
	AvgDailyIncome       decimal.Decimal `json:"avgDailyIncome"`
	ExpenseToIncomeRatio decimal.Decimal `json:"expenseToIncomeRatio"`
	TotalBalance         decimal.Decimal `json:"totalBalance"`
}

// MonthForecast is the naive next-month projection.
type MonthForecast struct {
	Expenses decimal.Decimal `json:"expenses"`
	Income   decimal.Decimal `json:"income"`
	Balance  decimal.Decimal `json:"balance"`
}

// AdvancedInsights is the heuristic analytics report: fixed-threshold
// business rules, not a statistical model.
type AdvancedInsights struct {
	Metrics         InsightMetrics   `json:"metrics"`
	Insights        []InsightMessage `json:"insights"`
	Warnings        []InsightMessage `json:"warnings"`
	Recommendations []InsightMessage `json:"recommendations"`
	Forecast        MonthForecast    `json:"forecast"`
}

// CashbackCategory is one category's slice of a monthly cashback report.
type CashbackCategory struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Cashback decimal.Decimal `json:"cashback"`
	Count    int             `json:"count"`
	Rate     decimal.Decimal `json:"rate"`
}

// CashbackReport is the computed cashback for one calendar month.
type CashbackReport struct {
	Month             string             `json:"month"` // YYYY-MM
	TotalCashback     decimal.Decimal    `json:"total_cashback"`
	TransactionsCount int                `json:"transactions_count"`
	AverageRate       decimal.Decimal    `json:"average_rate"`
	Categories        []CashbackCategory `json:"categories"`
}
