package models

import "time"

type User struct {
	ID             int        `json:"id" example:"1"`                   // User ID
	Email          string     `json:"email" example:"user@example.com"` // User email
	Username       string     `json:"username" example:"johndoe"`       // Unique username
	ProfilePicture string     `json:"profile_picture,omitempty"`
	IsAdmin        bool       `json:"is_admin"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
