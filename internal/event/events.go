// Package event defines the domain events raised while a customer fills in,
// submits and verifies a moving estimate.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeFormRestored       = "form_restored"
	TypeFormConfirmed      = "form_confirmed"
	TypeEstimateSubmitted  = "estimate_submitted"
	TypeSubmissionFailed   = "submission_failed"
	TypeEmailVerified      = "email_verified"
	TypeEmailVerifyFailed  = "email_verification_failed"
	TypeSMSVerified        = "sms_verified"
	TypeSMSVerifyFailed    = "sms_verification_failed"
	TypeVerificationResent = "verification_resent"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID         string
	EventType  string
	OccurredAt time.Time
	SessionID  string
	EstimateID string
	Summary    string
	Category   string // "form", "submission", "verification"
	Outcome    string // "success", "failure", "info"
	Payload    json.RawMessage
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ── Form events ──────────────────────────────────────────────────────────────

// FormRestoredPayload carries event-specific data for FormRestored.
type FormRestoredPayload struct {
	Outcome string `json:"outcome"`
	// RoundTrip is set when the visitor came straight back from the
	// confirmation page, e.g. with the browser's back button.
	RoundTrip bool `json:"round_trip,omitempty"`
}

func NewFormRestored(sessionID string, p FormRestoredPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeFormRestored,
		OccurredAt: time.Now(),
		SessionID:  sessionID,
		Summary:    fmt.Sprintf("Entry form opened for session %s (%s)", short(sessionID), p.Outcome),
		Category:   "form",
		Outcome:    "info",
		Payload:    mustJSON(p),
	}
}

// FormConfirmedPayload carries event-specific data for FormConfirmed.
type FormConfirmedPayload struct {
	LuggageLines int `json:"luggage_lines"`
}

func NewFormConfirmed(sessionID string, p FormConfirmedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeFormConfirmed,
		OccurredAt: time.Now(),
		SessionID:  sessionID,
		Summary:    fmt.Sprintf("Form for session %s passed validation", short(sessionID)),
		Category:   "form",
		Outcome:    "success",
		Payload:    mustJSON(p),
	}
}

// ── Submission events ────────────────────────────────────────────────────────

// EstimateSubmittedPayload carries event-specific data for EstimateSubmitted.
type EstimateSubmittedPayload struct {
	EstimateID string `json:"estimate_id"`
	Fallback   bool   `json:"fallback,omitempty"`
}

func NewEstimateSubmitted(sessionID string, p EstimateSubmittedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeEstimateSubmitted,
		OccurredAt: time.Now(),
		SessionID:  sessionID,
		EstimateID: p.EstimateID,
		Summary:    fmt.Sprintf("Estimate %s submitted", p.EstimateID),
		Category:   "submission",
		Outcome:    "success",
		Payload:    mustJSON(p),
	}
}

// SubmissionFailedPayload carries event-specific data for SubmissionFailed.
type SubmissionFailedPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

func NewSubmissionFailed(sessionID string, p SubmissionFailedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeSubmissionFailed,
		OccurredAt: time.Now(),
		SessionID:  sessionID,
		Summary:    fmt.Sprintf("Submission for session %s failed: %s", short(sessionID), p.Kind),
		Category:   "submission",
		Outcome:    "failure",
		Payload:    mustJSON(p),
	}
}

// ── Verification events ──────────────────────────────────────────────────────

// VerificationPayload carries event-specific data for verification events.
type VerificationPayload struct {
	EstimateID      string `json:"estimate_id,omitempty"`
	Channel         string `json:"channel"` // "email", "sms"
	AlreadyVerified bool   `json:"already_verified,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func NewEmailVerified(p VerificationPayload) DomainEvent {
	p.Channel = "email"
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeEmailVerified,
		OccurredAt: time.Now(),
		EstimateID: p.EstimateID,
		Summary:    fmt.Sprintf("Email verified for estimate %s", p.EstimateID),
		Category:   "verification",
		Outcome:    "success",
		Payload:    mustJSON(p),
	}
}

func NewEmailVerifyFailed(p VerificationPayload) DomainEvent {
	p.Channel = "email"
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeEmailVerifyFailed,
		OccurredAt: time.Now(),
		EstimateID: p.EstimateID,
		Summary:    fmt.Sprintf("Email verification failed: %s", p.Reason),
		Category:   "verification",
		Outcome:    "failure",
		Payload:    mustJSON(p),
	}
}

func NewSMSVerified(p VerificationPayload) DomainEvent {
	p.Channel = "sms"
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeSMSVerified,
		OccurredAt: time.Now(),
		EstimateID: p.EstimateID,
		Summary:    fmt.Sprintf("Phone verified for estimate %s", p.EstimateID),
		Category:   "verification",
		Outcome:    "success",
		Payload:    mustJSON(p),
	}
}

func NewSMSVerifyFailed(p VerificationPayload) DomainEvent {
	p.Channel = "sms"
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeSMSVerifyFailed,
		OccurredAt: time.Now(),
		EstimateID: p.EstimateID,
		Summary:    fmt.Sprintf("SMS verification failed for estimate %s", p.EstimateID),
		Category:   "verification",
		Outcome:    "failure",
		Payload:    mustJSON(p),
	}
}

func NewVerificationResent(p VerificationPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeVerificationResent,
		OccurredAt: time.Now(),
		EstimateID: p.EstimateID,
		Summary:    fmt.Sprintf("Verification %s resent for estimate %s", p.Channel, p.EstimateID),
		Category:   "verification",
		Outcome:    "info",
		Payload:    mustJSON(p),
	}
}
