// internal/domain/models/missionorder.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MissionOrder authorizes a tracking teacher's site visits for one
// convention. It has its own two-state lifecycle (PENDING -> SIGNED,
// terminal) independent of the convention workflow.
type MissionOrder struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConventionID primitive.ObjectID `bson:"convention_id" json:"convention_id"`

	TeacherName  string `bson:"teacher_name" json:"teacher_name"`
	TeacherEmail string `bson:"teacher_email" json:"teacher_email"`

	Status string `bson:"status" json:"status"` // "PENDING" | "SIGNED"

	// Signature, set once on signing.
	Image    string    `bson:"image,omitempty" json:"image,omitempty"`
	SignedAt time.Time `bson:"signed_at,omitempty" json:"signed_at,omitempty"`
	Hash     string    `bson:"hash,omitempty" json:"hash,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Mission order statuses.
const (
	MissionOrderPending = "PENDING"
	MissionOrderSigned  = "SIGNED"
)
