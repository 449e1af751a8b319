package models

import "time"

// Course is read-only input to settlement: the purchase flow only
// needs its id and price.
type Course struct {
	ID              int       `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Description     string    `json:"description" db:"description"`
	PriceCents      int64     `json:"price_cents" db:"price_cents"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	CoverImage      string    `json:"cover_image,omitempty" db:"cover_image"`
	FilePath        string    `json:"-" db:"file_path"`
	UploadedBy      int       `json:"uploaded_by" db:"uploaded_by"`
	LikesCount      int       `json:"likes_count"`
	Liked           bool      `json:"liked"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type CourseLike struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	CourseID  int       `json:"course_id" db:"course_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
