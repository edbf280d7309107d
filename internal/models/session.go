package models

import "time"

// Session groups the ordered messages of one browser conversation together with
// the model the user picked for it.
type Session struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
