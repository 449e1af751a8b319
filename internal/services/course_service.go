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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/learnpay/backend/internal/models"
)

// CourseService manages the course catalog: admin uploads, listing
// with like counts, likes and enrollment-gated downloads.
type CourseService struct {
	db        *sql.DB
	uploadDir string
	validator *ValidationHelper
}

func NewCourseService(db *sql.DB, uploadDir string) *CourseService {
	return &CourseService{
		db:        db,
		uploadDir: uploadDir,
		validator: NewValidationHelper(),
	}
}

const maxCourseUploadBytes = 200 << 20 // 200 MB

// Create stores the course record and its uploaded files.
func (s *CourseService) Create(ctx context.Context, uploadedBy int, title, description string, priceCents int64, durationMinutes int, coverName string, cover io.Reader, fileName string, file io.Reader) (*models.Course, error) {
	if priceCents < 0 {
		return nil, ErrInvalidAmount
	}

	coverPath := ""
	if cover != nil {
		ext := strings.ToLower(filepath.Ext(coverName))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			return nil, fmt.Errorf("cover image must be png or jpeg")
		}
		p, err := saveUpload(s.uploadDir, "covers", ext, cover)
		if err != nil {
			return nil, err
		}
		coverPath = p
	}

	if strings.ToLower(filepath.Ext(fileName)) != ".zip" {
		return nil, fmt.Errorf("course file must be a zip archive")
	}
	filePath, err := saveUpload(s.uploadDir, "courses", ".zip", file)
	if err != nil {
		return nil, err
	}

	var c models.Course
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO courses (title, description, price_cents, duration_minutes, cover_image, file_path, uploaded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		title, description, priceCents, durationMinutes, coverPath, filePath, uploadedBy).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		os.Remove(filePath)
		if coverPath != "" {
			os.Remove(coverPath)
		}
		return nil, err
	}

	c.Title = title
	c.Description = description
	c.PriceCents = priceCents
	c.DurationMinutes = durationMinutes
	c.CoverImage = coverPath
	c.FilePath = filePath
	c.UploadedBy = uploadedBy
	return &c, nil
}

// saveUpload writes src under baseDir/subdir with a uuid name so
// user-supplied names never touch the filesystem.
func saveUpload(baseDir, subdir, ext string, src io.Reader) (string, error) {
	dir := filepath.Join(baseDir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, uuid.New().String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// List returns the catalog with like counts and, for the viewing user,
// whether they liked each course.
func (s *CourseService) List(ctx context.Context, viewerID int) ([]models.Course, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.description, c.price_cents, c.duration_minutes, c.cover_image, c.uploaded_by, c.created_at,
		        COUNT(l.id) AS likes,
		        BOOL_OR(l.user_id = $1) AS liked
		 FROM courses c
		 LEFT JOIN course_likes l ON l.course_id = c.id
		 GROUP BY c.id
		 ORDER BY c.created_at DESC`,
		viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := []models.Course{}
	for rows.Next() {
		var c models.Course
		var liked sql.NullBool
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.PriceCents, &c.DurationMinutes,
			&c.CoverImage, &c.UploadedBy, &c.CreatedAt, &c.LikesCount, &liked); err != nil {
			return nil, err
		}
		c.Liked = liked.Valid && liked.Bool
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

func (s *CourseService) get(ctx context.Context, courseID int) (*models.Course, error) {
	var c models.Course
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, price_cents, duration_minutes, cover_image, file_path, uploaded_by, created_at
		 FROM courses WHERE id = $1`, courseID).
		Scan(&c.ID, &c.Title, &c.Description, &c.PriceCents, &c.DurationMinutes,
			&c.CoverImage, &c.FilePath, &c.UploadedBy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ToggleLikeCourse flips the user's like on a course and returns the
// resulting state and count.
func (s *CourseService) ToggleLikeCourse(ctx context.Context, userID, courseID int) (liked bool, likes int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists)
	if err != nil {
		return false, 0, err
	}
	if !exists {
		return false, 0, ErrCourseNotFound
	}

	res, err := tx.Exec(`DELETE FROM course_likes WHERE user_id = $1 AND course_id = $2`, userID, courseID)
	if err != nil {
		return false, 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}

	if removed == 0 {
		_, err = tx.Exec(
			`INSERT INTO course_likes (user_id, course_id, created_at) VALUES ($1, $2, NOW())`,
			userID, courseID)
		if err != nil && !isUniqueViolation(err) {
			return false, 0, err
		}
		liked = true
	}

	err = tx.QueryRow(`SELECT COUNT(*) FROM course_likes WHERE course_id = $1`, courseID).Scan(&likes)
	if err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return liked, likes, nil
}

// coursePathForDownload returns the file path if the user holds an
// enrollment for the course.
func (s *CourseService) coursePathForDownload(ctx context.Context, userID, courseID int) (string, error) {
	c, err := s.get(ctx, courseID)
	if err != nil {
		return "", err
	}

	var enrolled bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`,
		userID, courseID).Scan(&enrolled)
	if err != nil {
		return "", err
	}
	if !enrolled {
		return "", ErrForbidden
	}
	return c.FilePath, nil
}

// CreateCourse uploads a new course
// @Summary Create course
// @Description Admin-only multipart upload of a course archive with metadata
// @Tags courses
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Course title"
// @Param description formData string false "Course description"
// @Param price_cents formData int true "Price in cents"
// @Param duration_minutes formData int false "Duration in minutes"
// @Param cover_image formData file false "Cover image (png or jpeg)"
// @Param course_file formData file true "Course archive (zip)"
// @Success 201 {object} models.Course
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /courses [post]
func (s *CourseService) CreateCourse(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if !isAdminRequest(r) {
		SendErrorResponse(w, "Admin access required", http.StatusForbidden, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCourseUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		SendErrorResponse(w, "Invalid multipart form", http.StatusBadRequest, nil)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		SendErrorResponse(w, "Title is required", http.StatusBadRequest, nil)
		return
	}

	priceCents, err := strconv.ParseInt(r.FormValue("price_cents"), 10, 64)
	if err != nil || priceCents < 0 {
		SendErrorResponse(w, "Invalid price", http.StatusBadRequest, nil)
		return
	}

	durationMinutes := 0
	if v := r.FormValue("duration_minutes"); v != "" {
		durationMinutes, err = strconv.Atoi(v)
		if err != nil || durationMinutes < 0 {
			SendErrorResponse(w, "Invalid duration", http.StatusBadRequest, nil)
			return
		}
	}

	courseFile, courseHeader, err := r.FormFile("course_file")
	if err != nil {
		SendErrorResponse(w, "Course file is required", http.StatusBadRequest, nil)
		return
	}
	defer courseFile.Close()

	var cover io.Reader
	coverName := ""
	if f, h, err := r.FormFile("cover_image"); err == nil {
		defer f.Close()
		cover = f
		coverName = h.Filename
	}

	course, err := s.Create(r.Context(), userID,
		title, r.FormValue("description"), priceCents, durationMinutes,
		coverName, cover, courseHeader.Filename, courseFile)
	if err != nil {
		log.Printf("[COURSE] Creation failed: %v", err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(course)
}

// ListCourses returns the course catalog
// @Summary List courses
// @Description Get all courses with like counts and the viewer's like state
// @Tags courses
// @Produce json
// @Success 200 {object} object{courses=[]models.Course,count=int}
// @Router /courses [get]
func (s *CourseService) ListCourses(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromRequest(r)

	courses, err := s.List(r.Context(), userID)
	if err != nil {
		log.Printf("[COURSE] Listing failed: %v", err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"courses": courses,
		"count":   len(courses),
	})
}

// GetCourse returns a single course
// @Summary Get course
// @Tags courses
// @Produce json
// @Param courseID path int true "Course ID"
// @Success 200 {object} models.Course
// @Failure 404 {object} ErrorResponse
// @Router /courses/{courseID} [get]
func (s *CourseService) GetCourse(w http.ResponseWriter, r *http.Request) {
	courseID, err := courseIDParam(r)
	if err != nil {
		SendErrorResponse(w, "Invalid course ID", http.StatusBadRequest, nil)
		return
	}

	course, err := s.get(r.Context(), courseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(course)
}

// ToggleLike likes or unlikes a course
// @Summary Toggle course like
// @Tags courses
// @Produce json
// @Param courseID path int true "Course ID"
// @Success 200 {object} object{liked=bool,likes=int}
// @Failure 404 {object} ErrorResponse
// @Router /courses/{courseID}/like [post]
func (s *CourseService) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	courseID, err := courseIDParam(r)
	if err != nil {
		SendErrorResponse(w, "Invalid course ID", http.StatusBadRequest, nil)
		return
	}

	liked, likes, err := s.ToggleLikeCourse(r.Context(), userID, courseID)
	if err != nil {
		log.Printf("[COURSE] Like toggle failed for course %d: %v", courseID, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"liked": liked,
		"likes": likes,
	})
}

// Download serves the course archive to enrolled users
// @Summary Download course
// @Description Serve the course archive; requires an enrollment for the course
// @Tags courses
// @Produce application/octet-stream
// @Param courseID path int true "Course ID"
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /courses/{courseID}/download [get]
func (s *CourseService) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	courseID, err := courseIDParam(r)
	if err != nil {
		SendErrorResponse(w, "Invalid course ID", http.StatusBadRequest, nil)
		return
	}

	path, err := s.coursePathForDownload(r.Context(), userID, courseID)
	if err != nil {
		log.Printf("[COURSE] Download refused for course %d user %d: %v", courseID, userID, err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func courseIDParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "courseID"))
}
