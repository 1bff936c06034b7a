// Package events publishes lifecycle notifications so external tooling can
// follow provisioning and feed activity without polling the API.
package events

import (
	"context"
	"sync"
)

// Subjects published by the server. Run events carry the environment name as
// the final token.
const (
	SubjectRunPrefix     = "guardlab.run."
	SubjectDeltaAccepted = "guardlab.delta.accepted"
)

// RunSubject returns the subject for one environment's run events.
func RunSubject(environment string) string {
	return SubjectRunPrefix + environment
}

// RunEvent is published when a provision or teardown run finishes.
type RunEvent struct {
	Environment string `json:"environment"`
	RunID       string `json:"run_id,omitempty"`
	RunNumber   int    `json:"run_number,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// DeltaEvent is published when a feed delta passes validation and is stored.
type DeltaEvent struct {
	ID        string `json:"id"`
	CVEID     string `json:"cve_id"`
	Operation string `json:"operation"`
}

// Publisher delivers event payloads to a subject. Payloads are marshaled to
// JSON by the implementation.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close()
}

// Noop discards all events. Used when no broker is configured.
type Noop struct{}

// Ensure Noop implements Publisher.
var _ Publisher = (*Noop)(nil)

func (Noop) Publish(ctx context.Context, subject string, payload any) error { return nil }
func (Noop) Close()                                                         {}

// Recorded is one event captured by a Recorder.
type Recorded struct {
	Subject string
	Payload any
}

// Recorder captures events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Ensure Recorder implements Publisher.
var _ Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(ctx context.Context, subject string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Subject: subject, Payload: payload})
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}
