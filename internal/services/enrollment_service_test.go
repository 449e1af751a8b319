package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func enrollmentRows(id int, code string, userID, courseID, txnID, progress int, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "code", "user_id", "course_id", "transaction_id", "progress", "status", "last_accessed_at", "created_at"}).
		AddRow(id, code, userID, courseID, txnID, progress, status, time.Now(), time.Now())
}

func TestEnrollmentService_UpdateProgress(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEnrollmentService(db, nil)

	t.Run("progress update on owned enrollment", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE code = \\$1 FOR UPDATE").
			WithArgs("ENR-ABC123").
			WillReturnRows(enrollmentRows(5, "ENR-ABC123", 7, 42, 21, 10, "active"))
		mock.ExpectExec("UPDATE enrollments SET progress = \\$1, status = \\$2, last_accessed_at = \\$3").
			WithArgs(60, "active", sqlmock.AnyArg(), 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		e, err := service.UpdateProgress(context.Background(), "ENR-ABC123", 60, 7)
		assert.NoError(t, err)
		assert.Equal(t, 60, e.Progress)
		assert.Equal(t, "active", e.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("progress above 100 clamps and completes", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE code = \\$1 FOR UPDATE").
			WithArgs("ENR-ABC123").
			WillReturnRows(enrollmentRows(5, "ENR-ABC123", 7, 42, 21, 80, "active"))
		mock.ExpectExec("UPDATE enrollments SET progress = \\$1, status = \\$2, last_accessed_at = \\$3").
			WithArgs(100, "completed", sqlmock.AnyArg(), 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		e, err := service.UpdateProgress(context.Background(), "ENR-ABC123", 150, 7)
		assert.NoError(t, err)
		assert.Equal(t, 100, e.Progress)
		assert.Equal(t, "completed", e.Status)
	})

	t.Run("negative progress clamps to zero", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE code = \\$1 FOR UPDATE").
			WithArgs("ENR-ABC123").
			WillReturnRows(enrollmentRows(5, "ENR-ABC123", 7, 42, 21, 10, "active"))
		mock.ExpectExec("UPDATE enrollments SET progress = \\$1, status = \\$2, last_accessed_at = \\$3").
			WithArgs(0, "active", sqlmock.AnyArg(), 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		e, err := service.UpdateProgress(context.Background(), "ENR-ABC123", -5, 7)
		assert.NoError(t, err)
		assert.Equal(t, 0, e.Progress)
	})

	t.Run("someone else's enrollment is forbidden", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE code = \\$1 FOR UPDATE").
			WithArgs("ENR-ABC123").
			WillReturnRows(enrollmentRows(5, "ENR-ABC123", 7, 42, 21, 10, "active"))
		mock.ExpectRollback()

		_, err := service.UpdateProgress(context.Background(), "ENR-ABC123", 60, 99)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown code", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE code = \\$1 FOR UPDATE").
			WithArgs("ENR-GHOST").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.UpdateProgress(context.Background(), "ENR-GHOST", 60, 7)
		assert.ErrorIs(t, err, ErrEnrollmentNotFound)
	})
}

func TestEnrollmentService_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEnrollmentService(db, nil)

	t.Run("user's enrollments, most recently accessed first", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE user_id = \\$1 ORDER BY last_accessed_at DESC").
			WithArgs(7).
			WillReturnRows(enrollmentRows(5, "ENR-ABC123", 7, 42, 21, 60, "active").
				AddRow(6, "ENR-XYZ789", 7, 43, 22, 100, "completed", time.Now(), time.Now()))

		enrollments, err := service.List(context.Background(), 7)
		assert.NoError(t, err)
		assert.Len(t, enrollments, 2)
		assert.Equal(t, "ENR-ABC123", enrollments[0].Code)
	})

	t.Run("no enrollments", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE user_id = \\$1 ORDER BY last_accessed_at DESC").
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "code", "user_id", "course_id", "transaction_id", "progress", "status", "last_accessed_at", "created_at"}))

		enrollments, err := service.List(context.Background(), 99)
		assert.NoError(t, err)
		assert.Empty(t, enrollments)
	})
}

func TestEnrollmentService_AccessPass(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewEnrollmentService(db, redisClient)

	t.Run("pass for owned enrollment", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE code = \\$1").
			WithArgs("ENR-ABC123").
			WillReturnRows(enrollmentRows(5, "ENR-ABC123", 7, 42, 21, 60, "active"))

		redisMock.Regexp().ExpectSet(`accesspass:.+`, `.+`, 5*time.Minute).SetVal("OK")

		pass, qrImage, err := service.GenerateAccessPass(context.Background(), "ENR-ABC123", 7)
		assert.NoError(t, err)
		assert.NotEmpty(t, qrImage)

		decoded, err := base64.URLEncoding.DecodeString(pass)
		assert.NoError(t, err)

		var payload map[string]any
		assert.NoError(t, json.Unmarshal(decoded, &payload))
		assert.Equal(t, "ENR-ABC123", payload["enrollment_code"])
		assert.NotEmpty(t, payload["nonce"])
	})

	t.Run("someone else's enrollment is forbidden", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE code = \\$1").
			WithArgs("ENR-ABC123").
			WillReturnRows(enrollmentRows(5, "ENR-ABC123", 7, 42, 21, 60, "active"))

		_, _, err := service.GenerateAccessPass(context.Background(), "ENR-ABC123", 99)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("redeem consumes the pass", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]any{
			"enrollment_code": "ENR-ABC123",
			"course_id":       42,
			"user_id":         7,
		})
		pass := base64.URLEncoding.EncodeToString(payload)

		redisMock.ExpectGet("accesspass:" + pass).SetVal(string(payload))
		redisMock.ExpectDel("accesspass:" + pass).SetVal(1)

		result, err := service.RedeemAccessPass(context.Background(), pass)
		assert.NoError(t, err)
		assert.Equal(t, "ENR-ABC123", result["enrollment_code"])
	})

	t.Run("expired pass", func(t *testing.T) {
		redisMock.ExpectGet("accesspass:gone").RedisNil()

		_, err := service.RedeemAccessPass(context.Background(), "gone")
		assert.Error(t, err)
	})
}
