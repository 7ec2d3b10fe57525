// Package transfer holds the request/response shapes of the operator API.
package transfer

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/dvalenciano/igflow/internal/models"
)

type CustomClaims struct {
	Subject string `json:"sub_label"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Password string `json:"password"`
}

type RunRequest struct {
	Mode     string `json:"mode"`
	Topic    string `json:"topic,omitempty"`
	Template *int   `json:"template,omitempty"`
}

type QueueAddRequest struct {
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Template  *int   `json:"template,omitempty"`
	RunsTotal int    `json:"runs_total,omitempty"`
}

func (r QueueAddRequest) ToQueueItem() *models.QueueItem {
	return &models.QueueItem{
		ScheduledDate: r.Date,
		ScheduledTime: r.Time,
		Topic:         r.Topic,
		Template:      r.Template,
		RunsTotal:     r.RunsTotal,
	}
}

type AutoFillRequest struct {
	Days int `json:"days"`
}

type ConfigSaveRequest struct {
	Enabled  bool                `json:"enabled"`
	Schedule models.WeekSchedule `json:"schedule"`
}

type ApiKeyCreateRequest struct {
	Label string `json:"label"`
}
