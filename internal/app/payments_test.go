package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/internal/store"
)

func TestTransferByPhoneSettlesBothSides(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	payerID := uuid.New()
	recipientID := uuid.New()

	payerAccount := addAccount(repo, payerID, domain.BankVBank, "v1", 1)
	addAccount(repo, recipientID, domain.BankSBank, "s1", 1)
	repo.usersByPhone["+79001112233"] = domain.User{ID: recipientID, Phone: "+79001112233", Name: "Анна", Verified: true}

	service, memStore := newTestService(repo, backend)
	ctx := context.Background()
	seedBalance(t, memStore, payerID.String(), "v1", 10000)
	seedBalance(t, memStore, recipientID.String(), "s1", 2000)
	if err := memStore.SetWithTTL(ctx, "transactions:"+payerID.String()+":v1", "[]", time.Hour); err != nil {
		t.Fatalf("seed transactions: %v", err)
	}

	payment, err := service.TransferByPhone(ctx, payerID, domain.TransferByPhoneRequest{
		FromAccountID: payerAccount.ID,
		ToPhone:       "+79001112233",
		Amount:        decimal.NewFromInt(1500),
	})
	if err != nil {
		t.Fatalf("TransferByPhone returned error: %v", err)
	}
	if payment.Status != domain.PaymentStatusCompleted || payment.CompletedAt == nil {
		t.Fatalf("expected a completed payment, got %+v", payment)
	}
	if payment.ToUserID == nil || *payment.ToUserID != recipientID {
		t.Fatal("expected the payment addressed to the recipient")
	}

	if amount, _ := cachedAmount(t, memStore, payerID.String(), "v1"); !amount.Equal(decimal.NewFromInt(8500)) {
		t.Fatalf("expected payer cache debited to 8500, got %s", amount)
	}
	if amount, _ := cachedAmount(t, memStore, recipientID.String(), "s1"); !amount.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("expected recipient cache credited to 3500, got %s", amount)
	}
	if _, found, _ := memStore.Get(ctx, "transactions:"+payerID.String()+":v1"); found {
		t.Fatal("expected payer transaction cache dropped after settlement")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(repo.created))
	}
}

func TestTransferByPhoneRejectsDuplicateWithinWindow(t *testing.T) {
	repo := newStubRepository()
	backend := newFakeBackend()
	payerID := uuid.New()
	recipientID := uuid.New()

	payerAccount := addAccount(repo, payerID, domain.BankVBank, "v1", 1)
	repo.usersByPhone["+79001112233"] = domain.User{ID: recipientID, Phone: "+79001112233", Name: "Анна", Verified: true}

	service, memStore := newTestService(repo, backend)
	seedBalance(t, memStore, payerID.String(), "v1", 10000)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	completedAt := now.Add(-3 * time.Second)
	repo.duplicate = &domain.Payment{
		ID:          uuid.New(),
		UserID:      payerID,
		Type:        domain.PaymentToPerson,
		Amount:      decimal.NewFromInt(1500),
		Status:      domain.PaymentStatusCompleted,
		CompletedAt: &completedAt,
	}

	req := domain.TransferByPhoneRequest{
		FromAccountID: payerAccount.ID,
		ToPhone:       "+79001112233",
		Amount:        decimal.NewFromInt(1500),
	}
	ctx := context.Background()

	if _, err := service.TransferByPhone(ctx, payerID, req); !errors.Is(err, store.ErrDuplicatePayment) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	// Outside the window the same submission is a fresh payment.
	service.now = func() time.Time { return now.Add(6 * time.Second) }
	if _, err := service.TransferByPhone(ctx, payerID, req); err != nil {
		t.Fatalf("expected payment outside the window to proceed, got %v", err)
	}
}

func TestTransferByPhoneRejectsSelfTransfer(t *testing.T) {
	repo := newStubRepository()
	payerID := uuid.New()
	payerAccount := addAccount(repo, payerID, domain.BankVBank, "v1", 1)
	repo.usersByPhone["+79001112233"] = domain.User{ID: payerID, Phone: "+79001112233", Name: "Иван", Verified: true}

	service, _ := newTestService(repo, newFakeBackend())
	_, err := service.TransferByPhone(context.Background(), payerID, domain.TransferByPhoneRequest{
		FromAccountID: payerAccount.ID,
		ToPhone:       "+79001112233",
		Amount:        decimal.NewFromInt(100),
	})
	if !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
}

func TestTransferByPhoneRejectsInsufficientFunds(t *testing.T) {
	repo := newStubRepository()
	payerID := uuid.New()
	recipientID := uuid.New()
	payerAccount := addAccount(repo, payerID, domain.BankVBank, "v1", 1)
	repo.usersByPhone["+79001112233"] = domain.User{ID: recipientID, Phone: "+79001112233", Name: "Анна", Verified: true}

	service, memStore := newTestService(repo, newFakeBackend())
	seedBalance(t, memStore, payerID.String(), "v1", 100)

	_, err := service.TransferByPhone(context.Background(), payerID, domain.TransferByPhoneRequest{
		FromAccountID: payerAccount.ID,
		ToPhone:       "+79001112233",
		Amount:        decimal.NewFromInt(500),
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatal("expected no ledger row for a rejected payment")
	}
}

func TestTransferByPhoneUnknownRecipient(t *testing.T) {
	repo := newStubRepository()
	payerID := uuid.New()
	payerAccount := addAccount(repo, payerID, domain.BankVBank, "v1", 1)

	service, _ := newTestService(repo, newFakeBackend())
	_, err := service.TransferByPhone(context.Background(), payerID, domain.TransferByPhoneRequest{
		FromAccountID: payerAccount.ID,
		ToPhone:       "+70000000000",
		Amount:        decimal.NewFromInt(100),
	})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestPurchasePremiumDefaultsPriceAndAccount(t *testing.T) {
	repo := newStubRepository()
	payerID := uuid.New()
	addAccount(repo, payerID, domain.BankSBank, "s1", 1)
	addAccount(repo, payerID, domain.BankVBank, "v9", 5)

	service, memStore := newTestService(repo, newFakeBackend())
	seedBalance(t, memStore, payerID.String(), "s1", 1000)

	payment, err := service.PurchasePremium(context.Background(), payerID, domain.PremiumPurchaseRequest{})
	if err != nil {
		t.Fatalf("PurchasePremium returned error: %v", err)
	}
	if !payment.Amount.Equal(decimal.NewFromInt(299)) {
		t.Fatalf("expected the default premium price 299, got %s", payment.Amount)
	}
	if payment.FromAccountName != "s1" {
		t.Fatalf("expected the highest-priority account as source, got %q", payment.FromAccountName)
	}
	if amount, _ := cachedAmount(t, memStore, payerID.String(), "s1"); !amount.Equal(decimal.NewFromInt(701)) {
		t.Fatalf("expected cached balance 701 after purchase, got %s", amount)
	}
}

func TestPurchasePremiumNoActiveAccounts(t *testing.T) {
	repo := newStubRepository()
	service, _ := newTestService(repo, newFakeBackend())

	_, err := service.PurchasePremium(context.Background(), uuid.New(), domain.PremiumPurchaseRequest{})
	if !errors.Is(err, ErrNoActiveAccounts) {
		t.Fatalf("expected ErrNoActiveAccounts, got %v", err)
	}
}

func TestTransferToCardMasksDefaultDescription(t *testing.T) {
	repo := newStubRepository()
	payerID := uuid.New()
	payerAccount := addAccount(repo, payerID, domain.BankVBank, "v1", 1)

	service, memStore := newTestService(repo, newFakeBackend())
	seedBalance(t, memStore, payerID.String(), "v1", 5000)

	payment, err := service.TransferToCard(context.Background(), payerID, domain.CardTransferRequest{
		FromAccountID: payerAccount.ID,
		ToAccount:     "4276123456789012",
		ToName:        "Петр П.",
		Amount:        decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("TransferToCard returned error: %v", err)
	}
	if payment.Description == nil || *payment.Description != "Transfer to card ****9012" {
		t.Fatalf("expected masked default description, got %v", payment.Description)
	}
}
