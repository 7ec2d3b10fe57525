package models

import "time"

type ApiKey struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	ApiKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}
