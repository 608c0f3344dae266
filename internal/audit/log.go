package audit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

type requestIDKey struct{}

// WithRequestID returns a context whose audit events carry id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger records CA policy events to a Writer. A nil Logger or one over a
// NopWriter records nothing.
type Logger struct {
	mu     sync.Mutex
	w      Writer
	actor  *Actor
	closed bool
}

// NewLogger returns a Logger over w. A nil w disables auditing.
func NewLogger(w Writer) *Logger {
	if w == nil {
		w = NopWriter{}
	}
	return &Logger{w: w}
}

// OpenFile returns a Logger appending to the JSONL file at path. An empty
// path disables auditing.
func OpenFile(path string) (*Logger, error) {
	if path == "" {
		return NewLogger(nil), nil
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return nil, err
	}
	return NewLogger(w), nil
}

// SetActor overrides the actor recorded on every event.
func (l *Logger) SetActor(a Actor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actor = &a
}

// Enabled reports whether events are persisted.
func (l *Logger) Enabled() bool {
	if l == nil {
		return false
	}
	_, nop := l.w.(NopWriter)
	return !nop
}

// Close closes the underlying writer.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.w.Close()
}

// Log writes event. If auditing is enabled and Log fails, the calling
// operation must fail.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("audit log is closed")
	}
	if l.actor != nil {
		event.Actor = *l.actor
	}
	if id := RequestIDFromContext(ctx); id != "" && event.Context.RequestID == "" {
		event.Context.RequestID = id
	}
	if err := l.w.Write(event); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

// ProfileSet records a profile registration.
func (l *Logger) ProfileSet(ctx context.Context, ca, name string, replaced bool) error {
	return l.Log(ctx, NewEvent(EventProfileSet, ResultSuccess).
		WithObject(Object{Type: "profile", Name: name}).
		WithContext(Context{CA: ca, Profile: name, Replaced: replaced}))
}

// IssuanceResolved records an accepted issuance request. ignored lists the
// requested fields the profile overrode.
func (l *Logger) IssuanceResolved(ctx context.Context, ca, profile, subject string, ignored []string) error {
	return l.Log(ctx, NewEvent(EventIssuanceResolved, ResultSuccess).
		WithObject(Object{Type: "certificate", Subject: subject}).
		WithContext(Context{CA: ca, Profile: profile, Ignored: ignored}))
}

// IssuanceRejected records a refused issuance request.
func (l *Logger) IssuanceRejected(ctx context.Context, ca, profile, subject, reason string) error {
	return l.Log(ctx, NewEvent(EventIssuanceRejected, ResultFailure).
		WithObject(Object{Type: "certificate", Subject: subject}).
		WithContext(Context{CA: ca, Profile: profile, Reason: reason}))
}

// CertSigned records a certificate produced by the signing backend.
func (l *Logger) CertSigned(ctx context.Context, ca, profile, serial, subject string) error {
	return l.Log(ctx, NewEvent(EventCertSigned, ResultSuccess).
		WithObject(Object{Type: "certificate", Serial: serial, Subject: subject}).
		WithContext(Context{CA: ca, Profile: profile}))
}

// CertRevoked records a revocation.
func (l *Logger) CertRevoked(ctx context.Context, ca, serial, reason string, result Result) error {
	return l.Log(ctx, NewEvent(EventCertRevoked, result).
		WithObject(Object{Type: "certificate", Serial: serial}).
		WithContext(Context{CA: ca, Reason: reason}))
}

// CertUnrevoked records removal from the revocation list.
func (l *Logger) CertUnrevoked(ctx context.Context, ca, serial string, result Result) error {
	return l.Log(ctx, NewEvent(EventCertUnrevoked, result).
		WithObject(Object{Type: "certificate", Serial: serial}).
		WithContext(Context{CA: ca}))
}

// CRLGenerated records a signed CRL.
func (l *Logger) CRLGenerated(ctx context.Context, ca string, number uint64, revoked int) error {
	return l.Log(ctx, NewEvent(EventCRLGenerated, ResultSuccess).
		WithObject(Object{Type: "crl", Name: strconv.FormatUint(number, 10)}).
		WithContext(Context{CA: ca, CRLNumber: number, Revoked: revoked}))
}

// OCSPResponse records a signed OCSP response.
func (l *Logger) OCSPResponse(ctx context.Context, ca, serial, status string) error {
	return l.Log(ctx, NewEvent(EventOCSPResponse, ResultSuccess).
		WithObject(Object{Type: "certificate", Serial: serial}).
		WithContext(Context{CA: ca, Status: status}))
}
