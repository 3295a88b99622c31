/**
 * @description
 * This file implements internal payments: person-to-person transfers by
 * phone, card transfers, utility bill payments and premium purchases.
 * Payments settle entirely inside this system: the durable ledger row is
 * written first, then the cached balances are adjusted with compensating
 * updates so displayed balances reflect the payment immediately, without
 * waiting for the banks to report it.
 *
 * Key features:
 * - A short duplicate window rejects accidental double submissions of the
 *   same phone transfer.
 * - Funds checks are best-effort against the cached balance; in permissive
 *   mode an unverifiable balance lets the payment proceed.
 * - Compensating updates: debit the payer's cached balance, credit the
 *   recipient's highest-priority account, drop both transaction caches.
 * - Every settled payment is published to the message broker.
 *
 * @dependencies
 * - internal/domain, internal/store: Models and the payment ledger.
 * - pkg/rabbitmq: Settled-payment event publishing.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/internal/store"
	"github.com/bankhub/aggregation-service/pkg/rabbitmq"
)

// DuplicatePaymentWindow is how long after a completed phone transfer an
// identical one (same recipient, amount and type) is treated as a double
// submission.
const DuplicatePaymentWindow = 5 * time.Second

const paymentCurrency = "RUB"

var defaultPremiumPrice = decimal.NewFromInt(299)

// TransferByPhone moves money to another user of this system, addressed by
// phone number.
func (s *Service) TransferByPhone(ctx context.Context, userID uuid.UUID, req domain.TransferByPhoneRequest) (*domain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	recipient, err := s.repo.FindVerifiedUserByPhone(ctx, req.ToPhone)
	if err != nil {
		return nil, err
	}
	if recipient.ID == userID {
		return nil, ErrSelfTransfer
	}

	source, err := s.repo.FindUserBankAccount(ctx, req.FromAccountID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	duplicate, err := s.repo.FindRecentDuplicatePayment(ctx, store.DuplicateProbe{
		UserID:  userID,
		ToPhone: req.ToPhone,
		Amount:  req.Amount,
		Type:    domain.PaymentToPerson,
		Since:   now.Add(-DuplicatePaymentWindow),
	})
	if err != nil && err != store.ErrPaymentNotFound {
		return nil, fmt.Errorf("failed to screen for duplicate payment: %w", err)
	}
	if duplicate != nil {
		log.Printf("TransferByPhone: duplicate of payment %s within window, rejecting", duplicate.ID)
		return nil, store.ErrDuplicatePayment
	}

	snapshot, err := s.checkFunds(ctx, userID, source, req.Amount)
	if err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Transfer to %s", recipient.Name)
	}
	payment := &domain.Payment{
		UserID:          userID,
		Type:            domain.PaymentToPerson,
		Amount:          req.Amount,
		Currency:        paymentCurrency,
		FromAccountID:   &source.ID,
		FromAccountName: source.AccountName,
		ToUserID:        &recipient.ID,
		ToPhone:         &req.ToPhone,
		ToName:          &recipient.Name,
		Description:     &description,
		Status:          domain.PaymentStatusCompleted,
		CompletedAt:     &now,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.settleDebit(ctx, userID, source, req.Amount, snapshot)
	s.creditRecipient(ctx, recipient.ID, req.Amount)
	s.publishPayment(ctx, payment)
	return payment, nil
}

// TransferToCard moves money to a card or account number outside this system.
func (s *Service) TransferToCard(ctx context.Context, userID uuid.UUID, req domain.CardTransferRequest) (*domain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	source, err := s.repo.FindUserBankAccount(ctx, req.FromAccountID, userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.checkFunds(ctx, userID, source, req.Amount)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Transfer to card %s", maskAccount(req.ToAccount))
	}
	payment := &domain.Payment{
		UserID:          userID,
		Type:            domain.PaymentCardToCard,
		Amount:          req.Amount,
		Currency:        paymentCurrency,
		FromAccountID:   &source.ID,
		FromAccountName: source.AccountName,
		ToAccount:       &req.ToAccount,
		ToName:          &req.ToName,
		Description:     &description,
		Status:          domain.PaymentStatusCompleted,
		CompletedAt:     &now,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.settleDebit(ctx, userID, source, req.Amount, snapshot)
	s.publishPayment(ctx, payment)
	return payment, nil
}

// PayUtility settles a utility or service bill.
func (s *Service) PayUtility(ctx context.Context, userID uuid.UUID, req domain.UtilityPaymentRequest) (*domain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	source, err := s.repo.FindUserBankAccount(ctx, req.FromAccountID, userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.checkFunds(ctx, userID, source, req.Amount)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	description := fmt.Sprintf("%s: %s", req.Provider, req.AccountNumber)
	payment := &domain.Payment{
		UserID:          userID,
		Type:            domain.UtilityServiceType(req.ServiceType),
		Amount:          req.Amount,
		Currency:        paymentCurrency,
		FromAccountID:   &source.ID,
		FromAccountName: source.AccountName,
		ToAccount:       &req.AccountNumber,
		ToName:          &req.Provider,
		Description:     &description,
		Status:          domain.PaymentStatusCompleted,
		CompletedAt:     &now,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.settleDebit(ctx, userID, source, req.Amount, snapshot)
	s.publishPayment(ctx, payment)
	return payment, nil
}

// PurchasePremium settles a premium subscription purchase. A zero amount
// selects the default premium price; a zero source account selects the
// user's highest-priority active account.
func (s *Service) PurchasePremium(ctx context.Context, userID uuid.UUID, req domain.PremiumPurchaseRequest) (*domain.Payment, error) {
	amount := req.Amount
	if amount.IsZero() {
		amount = s.premiumPrice
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var source *domain.BankAccount
	var err error
	if req.FromAccountID != uuid.Nil {
		source, err = s.repo.FindUserBankAccount(ctx, req.FromAccountID, userID)
		if err != nil {
			return nil, err
		}
	} else {
		accounts, err := s.repo.ListActiveAccountsByPriority(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list active accounts: %w", err)
		}
		if len(accounts) == 0 {
			return nil, ErrNoActiveAccounts
		}
		source = &accounts[0]
	}

	snapshot, err := s.checkFunds(ctx, userID, source, amount)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	description := "Premium subscription"
	payment := &domain.Payment{
		UserID:          userID,
		Type:            domain.PaymentPremium,
		Amount:          amount,
		Currency:        paymentCurrency,
		FromAccountID:   &source.ID,
		FromAccountName: source.AccountName,
		Description:     &description,
		Status:          domain.PaymentStatusCompleted,
		CompletedAt:     &now,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.settleDebit(ctx, userID, source, amount, snapshot)
	s.publishPayment(ctx, payment)
	return payment, nil
}

// PaymentHistory returns the user's outgoing and incoming payments, newest first.
func (s *Service) PaymentHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = DefaultTransactionPageSize
	}
	if limit > MaxTransactionPageSize {
		limit = MaxTransactionPageSize
	}
	if offset < 0 {
		offset = 0
	}
	payments, err := s.repo.ListPayments(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return payments, nil
}

// checkFunds verifies the payer's cached balance covers the amount. The check
// is best-effort: when the balance cannot be determined, permissive mode
// proceeds and strict mode fails. A known-insufficient balance always
// rejects. Returns the pre-payment balance snapshot when one was available.
func (s *Service) checkFunds(ctx context.Context, userID uuid.UUID, source *domain.BankAccount, amount decimal.Decimal) (*decimal.Decimal, error) {
	balance, err := s.data.Balance(ctx, userID.String(), source.Bank, source.AccountID)
	if err != nil {
		if s.permissive {
			log.Printf("checkFunds: could not verify balance for account %s, proceeding: %v", source.AccountID, err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to verify funds: %w", err)
	}
	if balance.Amount.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	snapshot := balance.Amount
	return &snapshot, nil
}

// settleDebit applies the payer-side compensating update: adjust the cached
// balance down and drop the cached transaction list.
func (s *Service) settleDebit(ctx context.Context, userID uuid.UUID, source *domain.BankAccount, amount decimal.Decimal, snapshot *decimal.Decimal) {
	uid := userID.String()
	s.data.AdjustBalance(ctx, uid, source.AccountID, amount.Neg(), snapshot)
	s.data.InvalidateTransactions(ctx, uid, source.AccountID)
}

// creditRecipient applies the recipient-side compensating update to their
// highest-priority active account. A recipient with no linked accounts still
// receives the ledger row; there is just no cached balance to adjust.
func (s *Service) creditRecipient(ctx context.Context, recipientID uuid.UUID, amount decimal.Decimal) {
	accounts, err := s.repo.ListActiveAccountsByPriority(ctx, recipientID)
	if err != nil {
		log.Printf("creditRecipient: failed to list accounts for %s: %v", recipientID, err)
		return
	}
	if len(accounts) == 0 {
		log.Printf("creditRecipient: recipient %s has no active accounts, ledger row only", recipientID)
		return
	}
	target := accounts[0]
	uid := recipientID.String()
	s.data.AdjustBalance(ctx, uid, target.AccountID, amount, nil)
	s.data.InvalidateTransactions(ctx, uid, target.AccountID)
}

func (s *Service) publishPayment(ctx context.Context, payment *domain.Payment) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.PaymentEvent{
		PaymentID:   payment.ID,
		UserID:      payment.UserID,
		PaymentType: string(payment.Type),
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		ToUserID:    payment.ToUserID,
		Timestamp:   s.now().UTC(),
	}
	if err := s.eventProducer.PublishPaymentEvent(ctx, event); err != nil {
		log.Printf("publishPayment: failed to publish event for payment %s: %v", payment.ID, err)
	}
}

func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return "****" + account[len(account)-4:]
}
