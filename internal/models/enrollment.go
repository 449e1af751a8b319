package models

import "time"

// Enrollment statuses. Progress reaching 100 flips an active
// enrollment to completed.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentCancelled = "cancelled"
)

// Enrollment is the access grant created as a side effect of a
// completed purchase transaction. At most one per (user, course),
// enforced by a unique constraint.
type Enrollment struct {
	ID             int       `json:"id" db:"id"`
	Code           string    `json:"code" db:"code"` // human-readable grant code
	UserID         int       `json:"user_id" db:"user_id"`
	CourseID       int       `json:"course_id" db:"course_id"`
	TransactionID  int       `json:"transaction_id" db:"transaction_id"`
	Progress       int       `json:"progress" db:"progress"` // 0-100
	Status         string    `json:"status" db:"status"`
	LastAccessedAt time.Time `json:"last_accessed_at" db:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
