package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// End reasons recorded on PlayHistory rows.
const (
	EndCompleted   = "completed"
	EndRemoved     = "removed"
	EndShutdown    = "shutdown"
	EndInterrupted = "interrupted"
)

// PlayHistory records one period during which a track was the playing head.
type PlayHistory struct {
	ID         string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	TrackID    string  `gorm:"size:512;index" json:"track_id"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Duration   float64 `json:"duration"` // Seconds of audio in the track
	NodeID     string  `gorm:"size:128;index" json:"node_id,omitempty"`

	StartedAt time.Time  `gorm:"index" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `gorm:"type:varchar(32)" json:"end_reason,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// BeforeCreate assigns an id to new rows.
func (p *PlayHistory) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Played returns how long the track was on air, or zero while still playing.
func (p PlayHistory) Played() time.Duration {
	if p.EndedAt == nil {
		return 0
	}
	return p.EndedAt.Sub(p.StartedAt)
}
