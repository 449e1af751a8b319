package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	PaymentRef  string    `json:"payment_ref,omitempty"`
	UserID      int       `json:"user_id"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

// Logger emits append-only JSON audit events for every settlement
// outcome. It never blocks settlement: failures to serialize are
// swallowed.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogDeposit(userID int, paymentRef string, amountCents int64, status string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "DEPOSIT",
		PaymentRef:  paymentRef,
		UserID:      userID,
		AmountCents: amountCents,
		Status:      status,
	})
}

func (a *Logger) LogPurchase(userID, courseID int, amountCents int64, enrollmentCode, status string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "PURCHASE",
		UserID:      userID,
		AmountCents: amountCents,
		Status:      status,
		Details: map[string]any{
			"course_id":       courseID,
			"enrollment_code": enrollmentCode,
		},
	})
}

func (a *Logger) LogError(userID int, paymentRef string, err error) {
	a.log(Event{
		Timestamp:  time.Now(),
		EventType:  "ERROR",
		PaymentRef: paymentRef,
		UserID:     userID,
		Status:     "FAILED",
		Details:    map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
