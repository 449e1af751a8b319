package models

import "time"

// Transaction kinds.
const (
	TxKindDeposit  = "deposit"
	TxKindPurchase = "purchase"
)

// Transaction lifecycle statuses. Legal transitions are
// pending -> completed and pending -> failed; completed rows are immutable.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Wallet is the per-user balance record. One wallet per user, created
// lazily on first deposit or balance query. Balance equals the sum of
// all completed transactions' signed amounts.
type Wallet struct {
	ID           int       `json:"id" db:"id"`
	UserID       int       `json:"user_id" db:"user_id"`
	BalanceCents int64     `json:"balance_cents" db:"balance_cents"` // in cents
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// WalletTransaction is one append-only ledger row. Amount is signed:
// positive for deposits, negative for purchases.
type WalletTransaction struct {
	ID          int       `json:"id" db:"id"`
	WalletID    int       `json:"wallet_id" db:"wallet_id"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	Kind        string    `json:"kind" db:"kind"`
	PaymentRef  string    `json:"payment_ref,omitempty" db:"payment_ref"` // gateway reference, deposits only
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
