package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

// authedRequest attaches the context values the auth middleware would
// have set for an authenticated user.
func authedRequest(r *http.Request, userID string, isAdmin bool) *http.Request {
	ctx := context.WithValue(r.Context(), "userID", userID)
	ctx = context.WithValue(ctx, "isAdmin", isAdmin)
	return r.WithContext(ctx)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func setupAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func TestAuthService_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil, t.TempDir())

	t.Run("successful registration", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "test@example.com",
			Username: "jdoe",
			Password: "password123",
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
		mock.ExpectQuery("INSERT INTO users").
			WithArgs(req.Email, req.Username, sqlmock.AnyArg(), false).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(6))
		mock.ExpectCommit()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, req.Email, response.User.Email)
		assert.False(t, response.User.IsAdmin)
	})

	t.Run("first registered user becomes admin", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "admin@example.com",
			Username: "admin",
			Password: "password123",
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO users").
			WithArgs(req.Email, req.Username, sqlmock.AnyArg(), true).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.True(t, response.User.IsAdmin)
	})

	t.Run("duplicate email", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "taken@example.com",
			Username: "taken",
			Password: "password123",
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
		mock.ExpectQuery("INSERT INTO users").
			WithArgs(req.Email, req.Username, sqlmock.AnyArg(), false).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil, t.TempDir())

	t.Run("successful login", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password123")

		mock.ExpectQuery("SELECT id, email, username, password, is_admin FROM users").
			WithArgs("test@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "password", "is_admin"}).
				AddRow(1, "test@example.com", "jdoe", hashedPassword, false))
		mock.ExpectExec("UPDATE users SET last_login").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := LoginRequest{
			Email:    "test@example.com",
			Password: "password123",
		}

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
	})

	t.Run("user not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username, password, is_admin FROM users").
			WithArgs("nonexistent@example.com").
			WillReturnError(sql.ErrNoRows)

		req := LoginRequest{
			Email:    "nonexistent@example.com",
			Password: "password123",
		}

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		hashedPassword, _ := hashPassword("rightpassword")

		mock.ExpectQuery("SELECT id, email, username, password, is_admin FROM users").
			WithArgs("test@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "password", "is_admin"}).
				AddRow(1, "test@example.com", "jdoe", hashedPassword, false))

		req := LoginRequest{
			Email:    "test@example.com",
			Password: "wrongpassword",
		}

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthService_PromoteUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil, t.TempDir())

	t.Run("admin promotes another user", func(t *testing.T) {
		mock.ExpectExec("UPDATE users SET is_admin = TRUE").
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := httptest.NewRequest("POST", "/admin/promote/7", nil)
		r = authedRequest(r, "1", true)
		r = withURLParam(r, "userID", "7")
		w := httptest.NewRecorder()

		service.PromoteUser(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-admin is refused", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/admin/promote/7", nil)
		r = authedRequest(r, "2", false)
		r = withURLParam(r, "userID", "7")
		w := httptest.NewRecorder()

		service.PromoteUser(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectExec("UPDATE users SET is_admin = TRUE").
			WithArgs(99).
			WillReturnResult(sqlmock.NewResult(0, 0))

		r := httptest.NewRequest("POST", "/admin/promote/99", nil)
		r = authedRequest(r, "1", true)
		r = withURLParam(r, "userID", "99")
		w := httptest.NewRecorder()

		service.PromoteUser(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid user id", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/admin/promote/abc", nil)
		r = authedRequest(r, "1", true)
		r = withURLParam(r, "userID", "abc")
		w := httptest.NewRecorder()

		service.PromoteUser(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func pictureForm(t *testing.T, field, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	assert.NoError(t, err)
	fw.Write([]byte("fake image bytes"))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAuthService_UploadProfilePicture(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	uploadDir := t.TempDir()
	service := NewAuthService(db, nil, uploadDir)

	t.Run("stores avatar and records its path", func(t *testing.T) {
		mock.ExpectQuery("SELECT COALESCE\\(profile_picture, ''\\) FROM users").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"profile_picture"}).AddRow(""))
		mock.ExpectExec("UPDATE users SET profile_picture").
			WithArgs(sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, contentType := pictureForm(t, "picture", "avatar.png")
		r := httptest.NewRequest("POST", "/auth/account/picture", body)
		r.Header.Set("Content-Type", contentType)
		r = authedRequest(r, "1", false)
		w := httptest.NewRecorder()

		service.UploadProfilePicture(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]string
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response["profile_picture"])
		_, statErr := os.Stat(response["profile_picture"])
		assert.NoError(t, statErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-image extension", func(t *testing.T) {
		body, contentType := pictureForm(t, "picture", "avatar.exe")
		r := httptest.NewRequest("POST", "/auth/account/picture", body)
		r.Header.Set("Content-Type", contentType)
		r = authedRequest(r, "1", false)
		w := httptest.NewRecorder()

		service.UploadProfilePicture(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		body, contentType := pictureForm(t, "unrelated", "avatar.png")
		r := httptest.NewRequest("POST", "/auth/account/picture", body)
		r.Header.Set("Content-Type", contentType)
		r = authedRequest(r, "1", false)
		w := httptest.NewRecorder()

		service.UploadProfilePicture(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPasswordHashing(t *testing.T) {
	setupAuthConfig()

	password := "testpassword"

	hashed, err := hashPassword(password)
	assert.NoError(t, err)
	assert.NotEmpty(t, hashed)

	assert.True(t, verifyPassword(password, hashed))
	assert.False(t, verifyPassword("wrongpassword", hashed))
}

func TestGenerateJWT(t *testing.T) {
	setupAuthConfig()

	token, err := generateJWT(123, false)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}
