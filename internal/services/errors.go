package services

import (
	"errors"
	"net/http"

	"github.com/learnpay/backend/internal/gateway"
)

// Stable error kinds surfaced by the wallet/settlement core. Handlers
// map these to HTTP statuses with writeServiceError; callers can test
// them with errors.Is.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrCourseNotFound      = errors.New("course not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")

	ErrAlreadyPurchased    = errors.New("course already purchased")
	ErrDuplicateEnrollment = errors.New("duplicate enrollment")
	ErrInvalidTransition   = errors.New("invalid transaction status transition")
	ErrConflict            = errors.New("conflicting concurrent update")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrForbidden         = errors.New("forbidden")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidProgress = errors.New("progress out of range")
)

func statusForError(err error) int {
	// Definitive gateway rejections are the caller's problem, not ours.
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, ErrWalletNotFound),
		errors.Is(err, ErrCourseNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrEnrollmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyPurchased),
		errors.Is(err, ErrDuplicateEnrollment),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidProgress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	SendErrorResponse(w, msg, status, nil)
}
