package models

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RequestStatus string

const (
	StatusPending       RequestStatus = "pending"
	StatusAssigned      RequestStatus = "assigned"
	StatusAccepted      RequestStatus = "accepted"
	StatusInProgress    RequestStatus = "in_progress"
	StatusOverdueActive RequestStatus = "overdue_active"
	StatusFinalized     RequestStatus = "finalized"
	StatusRejected      RequestStatus = "rejected"
	StatusCancelled     RequestStatus = "cancelled"
)

func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusAccepted, StatusInProgress,
		StatusOverdueActive, StatusFinalized, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle action may touch the request.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusFinalized, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type ServiceRequest struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientID      string             `bson:"client_id" json:"client_id"`
	ProviderID    *string            `bson:"provider_id,omitempty" json:"provider_id,omitempty"`
	ServiceType   string             `bson:"service_type" json:"service_type"`
	Description   string             `bson:"description,omitempty" json:"description,omitempty"`
	Address       string             `bson:"address" json:"address"`
	Date          time.Time          `bson:"date" json:"date"`
	DurationHours float64            `bson:"duration_hours" json:"duration_hours"`
	Status        RequestStatus      `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
	AcceptedAt    *time.Time         `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	StartedAt     *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt    *time.Time         `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
}

func (r *ServiceRequest) Validate() error {
	if r.ClientID == "" || r.Address == "" || r.ServiceType == "" || r.Date.IsZero() {
		return fmt.Errorf("%w: missing required request fields", ErrValidation)
	}
	if r.DurationHours <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	return nil
}

// IsParticipant reports whether userID is the owning client or the bound provider.
func (r *ServiceRequest) IsParticipant(userID string) bool {
	if r.ClientID == userID {
		return true
	}
	return r.ProviderID != nil && *r.ProviderID == userID
}

// Peer returns the other participant's id, or "" when none is bound.
func (r *ServiceRequest) Peer(userID string) string {
	if r.ClientID != userID {
		return r.ClientID
	}
	if r.ProviderID != nil {
		return *r.ProviderID
	}
	return ""
}

// ScheduledEnd is the moment the visit should have finished.
func (r *ServiceRequest) ScheduledEnd() time.Time {
	return r.Date.Add(time.Duration(r.DurationHours * float64(time.Hour)))
}

func ParseStatus(raw string) (RequestStatus, error) {
	s := RequestStatus(raw)
	if !s.IsValid() {
		return "", errors.New("unknown request status: " + raw)
	}
	return s, nil
}
