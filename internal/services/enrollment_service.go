package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/learnpay/backend/internal/models"
	"github.com/lib/pq"
	"github.com/skip2/go-qrcode"
)

// EnrollmentService is the access-grant ledger: it records that a user
// paid for a course, tracks consumption progress and issues short-lived
// QR access passes for viewer apps.
type EnrollmentService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

func NewEnrollmentService(db *sql.DB, redisClient *redis.Client) *EnrollmentService {
	return &EnrollmentService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

const enrollmentColumns = `id, code, user_id, course_id, transaction_id, progress, status, last_accessed_at, created_at`

// createEnrollment inserts the grant as part of the purchase
// transaction. The unique (user_id, course_id) constraint is the
// defense in depth behind the settlement engine's pre-check. A
// collision on the grant code itself aborts the enclosing purchase
// transaction; the settlement engine's retry loop reruns it with a
// fresh code.
func (s *EnrollmentService) createEnrollment(tx *sql.Tx, userID, courseID, transactionID int) (string, error) {
	code := generateEnrollmentCode()

	_, err := tx.Exec(
		`INSERT INTO enrollments (code, user_id, course_id, transaction_id, progress, status, last_accessed_at, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW())`,
		code, userID, courseID, transactionID, models.EnrollmentActive)
	if err != nil {
		if isUniqueViolation(err) && !isCodeCollision(err) {
			return "", ErrDuplicateEnrollment
		}
		return "", err
	}
	return code, nil
}

func isCodeCollision(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && strings.Contains(pqErr.Constraint, "code")
}

// UpdateProgress records how far the owner has consumed the course.
// Progress is clamped to [0,100]; reaching 100 flips the grant to
// completed. Only the grant owner may update it.
func (s *EnrollmentService) UpdateProgress(ctx context.Context, code string, progress, userID int) (*models.Enrollment, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	e, err := scanEnrollment(tx.QueryRow(
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE code = $1 FOR UPDATE`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, err
	}

	if e.UserID != userID {
		return nil, ErrForbidden
	}

	status := e.Status
	if progress >= 100 && status == models.EnrollmentActive {
		status = models.EnrollmentCompleted
	}

	now := time.Now()
	_, err = tx.Exec(
		`UPDATE enrollments SET progress = $1, status = $2, last_accessed_at = $3 WHERE id = $4`,
		progress, status, now, e.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.Progress = progress
	e.Status = status
	e.LastAccessedAt = now
	return e, nil
}

// List returns the user's grants, most recently accessed first.
func (s *EnrollmentService) List(ctx context.Context, userID int) ([]models.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 ORDER BY last_accessed_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrollments := []models.Enrollment{}
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.ID, &e.Code, &e.UserID, &e.CourseID, &e.TransactionID,
			&e.Progress, &e.Status, &e.LastAccessedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func (s *EnrollmentService) getByCode(ctx context.Context, code string) (*models.Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnrollmentNotFound
	}
	return e, err
}

// GenerateAccessPass issues a single-use, short-lived pass for a grant
// and renders it as a QR code for handoff to viewer devices.
func (s *EnrollmentService) GenerateAccessPass(ctx context.Context, code string, userID int) (string, string, error) {
	e, err := s.getByCode(ctx, code)
	if err != nil {
		return "", "", err
	}
	if e.UserID != userID {
		return "", "", ErrForbidden
	}

	passData := map[string]any{
		"enrollment_code": e.Code,
		"course_id":       e.CourseID,
		"user_id":         e.UserID,
		"nonce":           generateNonce(),
		"issued_at":       time.Now().Unix(),
	}

	jsonData, err := json.Marshal(passData)
	if err != nil {
		return "", "", err
	}

	pass := base64.URLEncoding.EncodeToString(jsonData)

	if s.redis != nil {
		key := fmt.Sprintf("accesspass:%s", pass)
		if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
			return "", "", err
		}
	}

	qr, err := qrcode.New(pass, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return pass, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// RedeemAccessPass validates and consumes a pass. Single use: the
// redis key is deleted on first redemption.
func (s *EnrollmentService) RedeemAccessPass(ctx context.Context, pass string) (map[string]any, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("access passes unavailable without redis")
	}

	key := fmt.Sprintf("accesspass:%s", pass)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired access pass")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)
	return result, nil
}

type updateProgressRequest struct {
	Progress int `json:"progress"`
}

// Progress updates consumption progress on an enrollment
// @Summary Update enrollment progress
// @Description Set the progress percentage on an owned enrollment; clamps to 0-100 and completes at 100
// @Tags enrollments
// @Accept json
// @Produce json
// @Param code path string true "Enrollment code"
// @Param request body updateProgressRequest true "Progress update"
// @Success 200 {object} models.Enrollment
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /enrollments/{code}/progress [put]
func (s *EnrollmentService) Progress(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	code := chi.URLParam(r, "code")

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req updateProgressRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	enrollment, err := s.UpdateProgress(r.Context(), code, req.Progress, userID)
	if err != nil {
		log.Printf("[ENROLLMENT] Progress update failed for code %s: %v", code, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(enrollment)
}

// ListEnrollments lists the authenticated user's enrollments
// @Summary List enrollments
// @Description Get all enrollments for the authenticated user, most recently accessed first
// @Tags enrollments
// @Produce json
// @Success 200 {object} object{enrollments=[]models.Enrollment,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /enrollments [get]
func (s *EnrollmentService) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	enrollments, err := s.List(r.Context(), userID)
	if err != nil {
		log.Printf("[ENROLLMENT] Listing failed for user %d: %v", userID, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

// AccessPass issues a QR access pass for an enrollment
// @Summary Generate enrollment access pass
// @Description Issue a short-lived single-use QR pass for an owned enrollment
// @Tags enrollments
// @Produce json
// @Param code path string true "Enrollment code"
// @Success 200 {object} object{pass=string,qr_image=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /enrollments/{code}/qr [get]
func (s *EnrollmentService) AccessPass(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	code := chi.URLParam(r, "code")
	pass, qrImage, err := s.GenerateAccessPass(r.Context(), code, userID)
	if err != nil {
		log.Printf("[ENROLLMENT] Access pass generation failed for code %s: %v", code, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"pass":     pass,
		"qr_image": qrImage,
	})
}

func scanEnrollment(row *sql.Row) (*models.Enrollment, error) {
	var e models.Enrollment
	err := row.Scan(&e.ID, &e.Code, &e.UserID, &e.CourseID, &e.TransactionID,
		&e.Progress, &e.Status, &e.LastAccessedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// generateEnrollmentCode returns a human-readable grant code like
// ENR-7K2M9QX4.
func generateEnrollmentCode() string {
	const alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	b := make([]byte, 8)
	rand.Read(b)
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return "ENR-" + string(b)
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
