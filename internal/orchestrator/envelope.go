package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// EnvelopeKind distinguishes how an envelope was produced and how it must
// be routed once it reaches its target mailbox.
type EnvelopeKind int8

const (
	// External is a caller-submitted event routed through SendEventAsync.
	External EnvelopeKind = iota
	// SelfSend was recorded on an OrchestratedContext outbox by the
	// machine's own transition and is requeued on the same mailbox.
	SelfSend
	// Broadcast is one of the per-recipient copies fanned out by
	// RequestBroadcast.
	Broadcast
	// Request is an External envelope the caller is awaiting a Result for.
	Request
	// Response carries a correlated reply and bypasses the mailbox,
	// completing the waiter's response slot directly (§9 Open Question 3).
	Response
)

func (k EnvelopeKind) String() string {
	switch k {
	case External:
		return "External"
	case SelfSend:
		return "SelfSend"
	case Broadcast:
		return "Broadcast"
	case Request:
		return "Request"
	case Response:
		return "Response"
	default:
		return "Unknown"
	}
}

// Priority is the mailbox sub-queue an External/Broadcast/Request envelope
// is admitted into. Self-sends always use the highest priority regardless
// of the value set here (§4.3, §9 priority scheduling extension).
type Priority int8

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Envelope is an immutable record of one unit of inter-machine traffic.
// Once constructed it is never mutated; fields that "change" (e.g. a
// deadline firing) are observed by the reader, not written back.
type Envelope struct {
	ID            uuid.UUID
	Source        string
	Target        string
	EventName     string
	Payload       any
	SubmittedAt   time.Time
	Deadline      time.Time // zero value means "no deadline"
	Kind          EnvelopeKind
	Priority      Priority
	CorrelationID uuid.UUID // left zero by newEnvelope; the orchestrator correlates a Request with its reply by ID
}

// HasDeadline reports whether the envelope carries an expiry.
func (e Envelope) HasDeadline() bool {
	return !e.Deadline.IsZero()
}

// Expired reports whether the envelope's deadline has already passed.
func (e Envelope) Expired(now time.Time) bool {
	return e.HasDeadline() && now.After(e.Deadline)
}

func newEnvelope(source, target, eventName string, payload any, kind EnvelopeKind, priority Priority, timeout time.Duration) Envelope {
	env := Envelope{
		ID:          uuid.New(),
		Source:      source,
		Target:      target,
		EventName:   eventName,
		Payload:     payload,
		SubmittedAt: time.Now(),
		Kind:        kind,
		Priority:    priority,
	}
	if timeout > 0 {
		env.Deadline = env.SubmittedAt.Add(timeout)
	}
	return env
}

// ErrorKind enumerates the closed set of failure categories a Result can
// carry. Callers branch on this instead of string-matching error text.
type ErrorKind int8

const (
	// NoError marks a successful Result; Result.Error is nil in that case
	// and this constant exists only for completeness/zero-value clarity.
	NoError ErrorKind = iota
	TargetNotRegistered
	Timeout
	Cancelled
	MachineFault
	Shutdown
	BreakerOpen
	Backpressure
	DuplicateRegistration
	GroupReleased
)

func (k ErrorKind) String() string {
	switch k {
	case TargetNotRegistered:
		return "TargetNotRegistered"
	case Timeout:
		return "Timeout"
	case Cancelled:
		return "Cancelled"
	case MachineFault:
		return "MachineFault"
	case Shutdown:
		return "Shutdown"
	case BreakerOpen:
		return "BreakerOpen"
	case Backpressure:
		return "Backpressure"
	case DuplicateRegistration:
		return "DuplicateRegistration"
	case GroupReleased:
		return "GroupReleased"
	default:
		return "NoError"
	}
}

// Error is the typed failure attached to a Result. It implements the
// standard error interface so it can also be wrapped with fmt.Errorf.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Result is the typed outcome of SendEventAsync / ExecuteAsync style
// operations. Success is true exactly when Error is nil; successResult
// and failureResult always set the two together.
type Result struct {
	Success  bool
	NewState string
	Error    *Error
}

func successResult(newState string) Result {
	return Result{Success: true, NewState: newState}
}

func failureResult(kind ErrorKind, message string) Result {
	return Result{Success: false, Error: newError(kind, message)}
}
