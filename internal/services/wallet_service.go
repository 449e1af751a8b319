package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/learnpay/backend/internal/models"
	"github.com/lib/pq"
)

// WalletService is the wallet store and transaction log. Balance
// mutations never happen here directly; they run inside the settlement
// engine's database transactions through the tx-scoped helpers below,
// always with the wallet row locked.
type WalletService struct {
	db *sql.DB
}

func NewWalletService(db *sql.DB) *WalletService {
	return &WalletService{db: db}
}

const walletColumns = `id, user_id, balance_cents, created_at, updated_at`

// getOrCreateWallet returns the user's wallet, creating a zero-balance
// one on first use. Idempotent: a concurrent insert losing the
// user_id unique race falls back to re-selecting the winner's row.
func (s *WalletService) getOrCreateWallet(tx *sql.Tx, userID int) (*models.Wallet, error) {
	w, err := scanWallet(tx.QueryRow(
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	w, err = scanWallet(tx.QueryRow(
		`INSERT INTO wallets (user_id, balance_cents, created_at, updated_at)
		 VALUES ($1, 0, NOW(), NOW())
		 RETURNING `+walletColumns, userID))
	if err == nil {
		return w, nil
	}
	if isUniqueViolation(err) {
		return scanWallet(tx.QueryRow(
			`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	}
	return nil, err
}

// lockWallet loads the wallet under a row-level exclusive lock. Every
// balance mutation in the settlement engine starts here so concurrent
// operations against the same wallet serialize.
func (s *WalletService) lockWallet(tx *sql.Tx, userID int) (*models.Wallet, error) {
	w, err := scanWallet(tx.QueryRow(
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	return w, err
}

// adjustBalance applies a signed delta to a wallet the caller has
// already locked. Funds checks belong to the caller; the CHECK
// constraint on balance_cents is the last line of defense.
func (s *WalletService) adjustBalance(tx *sql.Tx, walletID int, deltaCents int64) error {
	result, err := tx.Exec(
		`UPDATE wallets SET balance_cents = balance_cents + $1, updated_at = NOW() WHERE id = $2`,
		deltaCents, walletID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// recordTransaction appends one immutable ledger row and returns its id.
func (s *WalletService) recordTransaction(tx *sql.Tx, walletID int, amountCents int64, kind, status, paymentRef string) (int, error) {
	var ref any
	if paymentRef != "" {
		ref = paymentRef
	}

	var id int
	err := tx.QueryRow(
		`INSERT INTO wallet_transactions (wallet_id, amount_cents, kind, status, payment_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id`,
		walletID, amountCents, kind, status, ref).Scan(&id)
	return id, err
}

// lockTransactionByRef loads a gateway-mediated deposit together with
// its owning wallet, both under row locks, so that only one verifier
// can win the pending -> completed transition.
func (s *WalletService) lockTransactionByRef(tx *sql.Tx, paymentRef string) (*models.WalletTransaction, *models.Wallet, error) {
	var t models.WalletTransaction
	var w models.Wallet
	err := tx.QueryRow(
		`SELECT t.id, t.wallet_id, t.amount_cents, t.kind, t.status, t.created_at,
		        w.id, w.user_id, w.balance_cents, w.created_at, w.updated_at
		 FROM wallet_transactions t
		 JOIN wallets w ON w.id = t.wallet_id
		 WHERE t.payment_ref = $1
		 FOR UPDATE OF t, w`, paymentRef).Scan(
		&t.ID, &t.WalletID, &t.AmountCents, &t.Kind, &t.Status, &t.CreatedAt,
		&w.ID, &w.UserID, &w.BalanceCents, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	t.PaymentRef = paymentRef
	return &t, &w, nil
}

// transitionTransaction moves a locked transaction out of pending.
// pending -> completed and pending -> failed are the only legal
// transitions; anything else reports ErrInvalidTransition.
func (s *WalletService) transitionTransaction(tx *sql.Tx, transactionID int, newStatus string) error {
	if newStatus != models.TxStatusCompleted && newStatus != models.TxStatusFailed {
		return ErrInvalidTransition
	}

	result, err := tx.Exec(
		`UPDATE wallet_transactions SET status = $1 WHERE id = $2 AND status = $3`,
		newStatus, transactionID, models.TxStatusPending)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Balance returns the user's balance, creating the wallet on first
// query per the lazy-creation rule.
func (s *WalletService) Balance(ctx context.Context, userID int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	w, err := s.getOrCreateWallet(tx, userID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return w.BalanceCents, nil
}

// Transactions lists the user's ledger, newest first. A user who never
// transacted gets an empty ledger and zero balance.
func (s *WalletService) Transactions(ctx context.Context, userID int) (int64, []models.WalletTransaction, error) {
	var walletID int
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, balance_cents FROM wallets WHERE user_id = $1`, userID).
		Scan(&walletID, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, []models.WalletTransaction{}, nil
	}
	if err != nil {
		return 0, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, wallet_id, amount_cents, kind, COALESCE(payment_ref, ''), status, created_at
		 FROM wallet_transactions
		 WHERE wallet_id = $1
		 ORDER BY created_at DESC, id DESC`, walletID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	transactions := []models.WalletTransaction{}
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.AmountCents, &t.Kind, &t.PaymentRef, &t.Status, &t.CreatedAt); err != nil {
			return 0, nil, err
		}
		transactions = append(transactions, t)
	}
	return balance, transactions, rows.Err()
}

// GetBalance returns the authenticated user's wallet balance
// @Summary Get wallet balance
// @Description Get the current wallet balance, creating the wallet on first query
// @Tags wallet
// @Produce json
// @Success 200 {object} object{balance_cents=int64}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet/balance [get]
func (s *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.Balance(r.Context(), userID)
	if err != nil {
		log.Printf("[WALLET] Balance query failed for user %d: %v", userID, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"balance_cents": balance})
}

// GetTransactions lists the authenticated user's wallet transactions
// @Summary List wallet transactions
// @Description Get the wallet ledger, newest first, together with the current balance
// @Tags wallet
// @Produce json
// @Success 200 {object} object{balance_cents=int64,transactions=[]models.WalletTransaction}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet/transactions [get]
func (s *WalletService) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, transactions, err := s.Transactions(r.Context(), userID)
	if err != nil {
		log.Printf("[WALLET] Transaction listing failed for user %d: %v", userID, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"balance_cents": balance,
		"transactions":  transactions,
		"count":         len(transactions),
	})
}

func scanWallet(row *sql.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.BalanceCents, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// userIDFromRequest reads the authenticated user id put in the request
// context by the auth middleware.
func userIDFromRequest(r *http.Request) (int, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// isAdminRequest reads the admin flag put in the request context by
// the auth middleware.
func isAdminRequest(r *http.Request) bool {
	isAdmin, _ := r.Context().Value("isAdmin").(bool)
	return isAdmin
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isRetryableConflict reports lock/serialization conflicts worth a
// bounded retry: serialization_failure, deadlock_detected,
// lock_not_available.
func isRetryableConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}
