package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	ParticipationJoined = "joined"
	ParticipationLeft   = "left"
)

type Participation struct {
	bun.BaseModel `bun:"table:participations"`

	ParticipationID string    `bun:"participation_id,pk" json:"participation_id"`
	GroupID         string    `bun:"group_id" json:"group_id"`
	UserID          string    `bun:"user_id" json:"user_id"`
	Status          string    `bun:"status" json:"status"`
	JoinedAt        time.Time `bun:"joined_at" json:"joined_at"`
	LeftAt          time.Time `bun:"left_at,nullzero" json:"left_at,omitempty"`
}

type ParticipationResponse struct {
	GroupID       string `json:"group_id"`
	UserID        string `json:"user_id"`
	Participating bool   `json:"participating"`
	JoinedAt      string `json:"joined_at,omitempty"`
}
