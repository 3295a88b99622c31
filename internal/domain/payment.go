/**
 * @description
 * Domain models for internal payments: transfers and bill payments recorded
 * and settled entirely inside this system. The payments table, not the
 * aggregation cache, is the durable truth for a user's payment history.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentType enumerates the supported internal payment kinds.
type PaymentType string

const (
	PaymentCardToCard  PaymentType = "card_to_card"
	PaymentToPerson    PaymentType = "to_person"
	PaymentMobile      PaymentType = "mobile"
	PaymentUtilities   PaymentType = "utilities"
	PaymentInternet    PaymentType = "internet"
	PaymentTV          PaymentType = "tv"
	PaymentPhone       PaymentType = "phone"
	PaymentElectricity PaymentType = "electricity"
	PaymentPremium     PaymentType = "premium"
)

// PaymentStatus enumerates payment lifecycle states. Internal payments are
// created directly as completed; there is no external settlement step.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment is one internal transfer or bill payment. Maps to the `payments`
// table.
type Payment struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Type            PaymentType     `json:"payment_type"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	FromAccountID   *uuid.UUID      `json:"from_account_id,omitempty"`
	FromAccountName string          `json:"from_account_name,omitempty"`
	ToUserID        *uuid.UUID      `json:"to_user_id,omitempty"`
	ToPhone         *string         `json:"to_phone,omitempty"`
	ToAccount       *string         `json:"to_account,omitempty"`
	ToName          *string         `json:"to_name,omitempty"`
	Description     *string         `json:"description,omitempty"`
	Status          PaymentStatus   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// User is the minimal user view this service needs: payer identity and the
// phone number transfers are addressed to. Identity issuance lives in the
// external session provider.
type User struct {
	ID       uuid.UUID `json:"id"`
	Phone    string    `json:"phone"`
	Name     string    `json:"name"`
	Verified bool      `json:"verified"`
}

// TransferByPhoneRequest is the DTO for person-to-person transfers addressed
// by phone number.
type TransferByPhoneRequest struct {
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ToPhone       string          `json:"to_phone"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// CardTransferRequest is the DTO for transfers to a card or account number
// outside this system.
type CardTransferRequest struct {
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ToAccount     string          `json:"to_account"`
	ToName        string          `json:"to_name"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// UtilityPaymentRequest is the DTO for utility/service bill payments.
type UtilityPaymentRequest struct {
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ServiceType   string          `json:"service_type"` // mobile, utilities, internet, tv, phone, electricity
	Provider      string          `json:"provider"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
}

// PremiumPurchaseRequest is the DTO for premium subscription purchases. A
// zero amount selects the default premium price.
type PremiumPurchaseRequest struct {
	FromAccountID uuid.UUID       `json:"from_account_id"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
}

// UtilityServiceType maps a utility request's service type onto a payment
// type, defaulting to utilities for unknown values.
func UtilityServiceType(serviceType string) PaymentType {
	switch serviceType {
	case "mobile":
		return PaymentMobile
	case "internet":
		return PaymentInternet
	case "tv":
		return PaymentTV
	case "phone":
		return PaymentPhone
	case "electricity":
		return PaymentElectricity
	default:
		return PaymentUtilities
	}
}
