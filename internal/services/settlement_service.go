package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/learnpay/backend/internal/audit"
	"github.com/learnpay/backend/internal/config"
	"github.com/learnpay/backend/internal/gateway"
	"github.com/learnpay/backend/internal/models"
)

// SettlementService drives the two money flows: gateway-mediated
// deposits and course purchases. Initiating a deposit records a
// pending transaction; only a successful verify transitions it to
// completed and credits the wallet.
type SettlementService struct {
	db          *sql.DB
	gateway     gateway.Client
	wallets     *WalletService
	enrollments *EnrollmentService
	audit       *audit.Logger
	validator   *ValidationHelper
	retries     int
}

func NewSettlementService(db *sql.DB, gw gateway.Client, wallets *WalletService, enrollments *EnrollmentService, cfg *config.SettlementConfig) *SettlementService {
	retries := 3
	if cfg != nil && cfg.PurchaseRetries > 0 {
		retries = cfg.PurchaseRetries
	}
	return &SettlementService{
		db:          db,
		gateway:     gw,
		wallets:     wallets,
		enrollments: enrollments,
		audit:       audit.NewLogger(),
		validator:   NewValidationHelper(),
		retries:     retries,
	}
}

// DepositResult is returned by deposit initiation.
type DepositResult struct {
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
}

// VerifyDepositResult is returned by deposit verification.
type VerifyDepositResult struct {
	Status          string `json:"status"`
	NewBalanceCents int64  `json:"new_balance_cents"`
}

// InitializeDeposit asks the gateway to charge the user's mobile
// number, then records a pending deposit transaction carrying the
// provider reference. The gateway call happens strictly before any
// local write: a gateway failure aborts with a clean ledger.
func (s *SettlementService) InitializeDeposit(ctx context.Context, userID int, mobile string, amountCents int64) (*DepositResult, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	chargeID := uuid.New().String()
	res, err := s.gateway.InitiatePayment(ctx, mobile, amountCents, chargeID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			s.audit.LogError(userID, chargeID, err)
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wallet, err := s.wallets.getOrCreateWallet(tx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.wallets.recordTransaction(tx, wallet.ID, amountCents,
		models.TxKindDeposit, models.TxStatusPending, res.RefID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogDeposit(userID, res.RefID, amountCents, models.TxStatusPending)
	log.Printf("[SETTLEMENT] Deposit initialized: user=%d ref=%s amount=%d", userID, res.RefID, amountCents)
	return &DepositResult{PaymentRef: res.RefID, Status: models.TxStatusPending}, nil
}

// VerifyDeposit reconciles a pending deposit against the gateway. On a
// settled payment it marks the transaction completed and credits the
// wallet in one atomic step; those two writes are never separated.
// Verifying an already-completed deposit is an idempotent no-op that
// returns the current balance.
func (s *SettlementService) VerifyDeposit(ctx context.Context, paymentRef string, userID int) (*VerifyDepositResult, error) {
	res, err := s.gateway.VerifyPayment(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txn, wallet, err := s.wallets.lockTransactionByRef(tx, paymentRef)
	if err != nil {
		return nil, err
	}
	if wallet.UserID != userID {
		return nil, ErrForbidden
	}

	switch res.Status {
	case gateway.StatusPending:
		// Provider has not settled yet. Leave the transaction alone;
		// safe to verify again later.
		return &VerifyDepositResult{Status: models.TxStatusPending, NewBalanceCents: wallet.BalanceCents}, nil

	case gateway.StatusFailure:
		if txn.Status == models.TxStatusFailed {
			return &VerifyDepositResult{Status: models.TxStatusFailed, NewBalanceCents: wallet.BalanceCents}, nil
		}
		if txn.Status != models.TxStatusPending {
			return nil, ErrInvalidTransition
		}
		if err := s.wallets.transitionTransaction(tx, txn.ID, models.TxStatusFailed); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.audit.LogDeposit(userID, paymentRef, txn.AmountCents, models.TxStatusFailed)
		return &VerifyDepositResult{Status: models.TxStatusFailed, NewBalanceCents: wallet.BalanceCents}, nil

	case gateway.StatusSuccess:
		if txn.Status == models.TxStatusCompleted {
			// Another verifier already won the transition; credit
			// happened exactly once.
			return &VerifyDepositResult{Status: models.TxStatusCompleted, NewBalanceCents: wallet.BalanceCents}, nil
		}
		if txn.Status != models.TxStatusPending {
			return nil, ErrInvalidTransition
		}
		if err := s.wallets.transitionTransaction(tx, txn.ID, models.TxStatusCompleted); err != nil {
			return nil, err
		}
		if err := s.wallets.adjustBalance(tx, wallet.ID, txn.AmountCents); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.audit.LogDeposit(userID, paymentRef, txn.AmountCents, models.TxStatusCompleted)
		log.Printf("[SETTLEMENT] Deposit completed: user=%d ref=%s amount=%d", userID, paymentRef, txn.AmountCents)
		return &VerifyDepositResult{
			Status:          models.TxStatusCompleted,
			NewBalanceCents: wallet.BalanceCents + txn.AmountCents,
		}, nil
	}

	return nil, fmt.Errorf("unexpected gateway status %q for ref %s", res.Status, paymentRef)
}

// PurchaseCourse atomically checks funds, debits the wallet, records
// the completed purchase transaction and creates the enrollment grant.
// All three writes commit together or not at all. Lock conflicts are
// retried a bounded number of times, then surfaced as ErrConflict.
func (s *SettlementService) PurchaseCourse(ctx context.Context, userID, courseID int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		code, err := s.purchaseOnce(ctx, userID, courseID)
		if err == nil {
			return code, nil
		}
		if isRetryableConflict(err) || isCodeCollision(err) {
			lastErr = err
			log.Printf("[SETTLEMENT] Purchase conflict for user=%d course=%d (attempt %d): %v",
				userID, courseID, attempt+1, err)
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *SettlementService) purchaseOnce(ctx context.Context, userID, courseID int) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var priceCents int64
	err = tx.QueryRow(`SELECT price_cents FROM courses WHERE id = $1`, courseID).Scan(&priceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCourseNotFound
	}
	if err != nil {
		return "", err
	}

	var alreadyOwned bool
	err = tx.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`,
		userID, courseID).Scan(&alreadyOwned)
	if err != nil {
		return "", err
	}
	if alreadyOwned {
		return "", ErrAlreadyPurchased
	}

	// A user who never deposited has no wallet and therefore no funds.
	wallet, err := s.wallets.lockWallet(tx, userID)
	if err != nil {
		return "", err
	}

	if wallet.BalanceCents < priceCents {
		return "", ErrInsufficientFunds
	}

	transactionID, err := s.wallets.recordTransaction(tx, wallet.ID, -priceCents,
		models.TxKindPurchase, models.TxStatusCompleted, "")
	if err != nil {
		return "", err
	}

	if err := s.wallets.adjustBalance(tx, wallet.ID, -priceCents); err != nil {
		return "", err
	}

	code, err := s.enrollments.createEnrollment(tx, userID, courseID, transactionID)
	if err != nil {
		// The unique (user_id, course_id) constraint closes the race
		// between the pre-check above and this insert.
		if errors.Is(err, ErrDuplicateEnrollment) {
			return "", ErrAlreadyPurchased
		}
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.audit.LogPurchase(userID, courseID, priceCents, code, models.TxStatusCompleted)
	log.Printf("[SETTLEMENT] Purchase completed: user=%d course=%d price=%d enrollment=%s",
		userID, courseID, priceCents, code)
	return code, nil
}

type depositInitializeRequest struct {
	Mobile      string `json:"mobile" validate:"required,min=9,max=20"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
}

// DepositInitialize starts a mobile-money deposit
// @Summary Initialize a deposit
// @Description Charge the given mobile number through the payment gateway and record a pending deposit
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body depositInitializeRequest true "Deposit request"
// @Success 200 {object} DepositResult
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /wallet/deposit/initialize [post]
func (s *SettlementService) DepositInitialize(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req depositInitializeRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.InitializeDeposit(r.Context(), userID, req.Mobile, req.AmountCents)
	if err != nil {
		log.Printf("[SETTLEMENT] Deposit initialization failed for user %d: %v", userID, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// DepositVerify reconciles a pending deposit with the gateway
// @Summary Verify a deposit
// @Description Query the gateway for the payment state and credit the wallet exactly once on success
// @Tags wallet
// @Produce json
// @Param paymentRef path string true "Gateway payment reference"
// @Success 200 {object} VerifyDepositResult
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /wallet/verify-deposit/{paymentRef} [post]
func (s *SettlementService) DepositVerify(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentRef := chi.URLParam(r, "paymentRef")
	if paymentRef == "" {
		SendErrorResponse(w, "paymentRef is required", http.StatusBadRequest, nil)
		return
	}

	result, err := s.VerifyDeposit(r.Context(), paymentRef, userID)
	if err != nil {
		log.Printf("[SETTLEMENT] Deposit verification failed for ref %s: %v", paymentRef, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Purchase buys a course with wallet funds
// @Summary Purchase a course
// @Description Debit the wallet by the course price and create an enrollment grant, atomically
// @Tags courses
// @Produce json
// @Param courseID path int true "Course ID"
// @Success 200 {object} object{enrollment_code=string}
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /courses/{courseID}/purchase [post]
func (s *SettlementService) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	courseID, err := courseIDParam(r)
	if err != nil {
		SendErrorResponse(w, "Invalid course id", http.StatusBadRequest, nil)
		return
	}

	code, err := s.PurchaseCourse(r.Context(), userID, courseID)
	if err != nil {
		log.Printf("[SETTLEMENT] Purchase failed: user=%d course=%d: %v", userID, courseID, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message":         "Course purchased successfully",
		"enrollment_code": code,
	})
}
