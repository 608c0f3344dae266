// Package audit provides tamper-evident audit logging for CA policy
// decisions.
//
// Audit logs are separate from technical logs. Every event is chained to its
// predecessor with a SHA-256 hash so truncation or edits are detectable.
//
// Key principles:
//   - Audit failure = Operation failure
//   - Never log secrets (private keys, passphrases)
//   - All timestamps in UTC
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event.
type EventType string

const (
	// Profile registry events
	EventProfileSet EventType = "PROFILE_SET"

	// Issuance events
	EventIssuanceResolved EventType = "ISSUANCE_RESOLVED"
	EventIssuanceRejected EventType = "ISSUANCE_REJECTED"
	EventCertSigned       EventType = "CERT_SIGNED"

	// Revocation events
	EventCertRevoked   EventType = "CERT_REVOKED"
	EventCertUnrevoked EventType = "CERT_UNREVOKED"
	EventCRLGenerated  EventType = "CRL_GENERATED"
	EventOCSPResponse  EventType = "OCSP_RESPONSE"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor represents who performed the action.
type Actor struct {
	Type string `json:"type"`           // "user", "system", "service"
	ID   string `json:"id"`             // username or service identifier
	Host string `json:"host,omitempty"` // hostname where action occurred
}

// Object represents what was acted upon.
type Object struct {
	Type    string `json:"type"`              // "certificate", "profile", "crl"
	Serial  string `json:"serial,omitempty"`  // certificate serial number
	Subject string `json:"subject,omitempty"` // certificate subject DN
	Name    string `json:"name,omitempty"`    // profile name
}

// Context provides additional details about the operation.
type Context struct {
	CA        string   `json:"ca,omitempty"`         // CA name
	Profile   string   `json:"profile,omitempty"`    // profile used
	Reason    string   `json:"reason,omitempty"`     // revocation reason, failure reason
	CRLNumber uint64   `json:"crl_number,omitempty"` // CRL number
	Revoked   int      `json:"revoked,omitempty"`    // number of CRL entries
	Status    string   `json:"status,omitempty"`     // OCSP certificate status
	Ignored   []string `json:"ignored,omitempty"`    // requested fields the profile overrode
	Replaced  bool     `json:"replaced,omitempty"`   // profile registration replaced another
	RequestID string   `json:"request_id,omitempty"` // API request correlation ID
}

// Event represents a single audit log entry.
type Event struct {
	ID        string    `json:"id"`
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"` // SHA-256 hash of previous event
	Hash      string    `json:"hash"`      // SHA-256 hash of this event
}

// DefaultActor describes the local user running the process.
func DefaultActor() Actor {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}
	return Actor{Type: "user", ID: username, Host: hostname}
}

// NewEvent creates a new audit event with a fresh ID, the current timestamp
// and the default actor.
func NewEvent(eventType EventType, result Result) *Event {
	return &Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor:     DefaultActor(),
		Result:    result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if e.Actor.Type == "" || e.Actor.ID == "" {
		return fmt.Errorf("actor type and id are required")
	}
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	return nil
}

// CanonicalJSON returns the event as canonical JSON for hashing.
// Excludes the Hash field to allow hash calculation.
func (e *Event) CanonicalJSON() ([]byte, error) {
	type eventForHash struct {
		ID        string    `json:"id"`
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}

	return json.Marshal(eventForHash{
		ID:        e.ID,
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
