package benchhttp

import (
	"sync"

	"github.com/pvlab/ivbench/measure"
)

// Message types on a run stream
const (
	TypeSample  = "sample"
	TypeStatus  = "status"
	TypeOutcome = "outcome"
)

// Message is one frame of a run stream
type Message struct {
	Type    string                `json:"type"`
	Sample  *measure.SampleRecord `json:"sample,omitempty"`
	Status  string                `json:"status,omitempty"`
	Outcome *measure.RunOutcome   `json:"outcome,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// subscribers that fall this far behind are dropped
const subscriberBuffer = 256

// run is the record of one run: everything published so far, live
// subscribers, and the outcome once it has ended
type run struct {
	mu      sync.Mutex
	id      string
	history []Message
	subs    map[chan Message]struct{}
	outcome *measure.RunOutcome
	done    bool
}

func newRun(id string) *run {
	return &run{id: id, subs: map[chan Message]struct{}{}}
}

func (r *run) publish(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.history = append(r.history, m)
	for ch := range r.subs {
		select {
		case ch <- m:
		default:
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// Append implements measure.ResultsSink
func (r *run) Append(s measure.SampleRecord) {
	r.publish(Message{Type: TypeSample, Sample: &s})
}

// Status implements measure.StatusSink
func (r *run) Status(s string) {
	r.publish(Message{Type: TypeStatus, Status: s})
}

// finish publishes the outcome and closes every subscription
func (r *run) finish(out *measure.RunOutcome, err error) {
	m := Message{Type: TypeOutcome, Outcome: out}
	if err != nil {
		m.Error = err.Error()
	}
	r.publish(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = out
	r.done = true
	for ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

// subscribe returns the messages published so far and a channel of those
// to come.  The channel is nil if the run has ended.
func (r *run) subscribe() ([]Message, chan Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replay := append([]Message(nil), r.history...)
	if r.done {
		return replay, nil
	}
	ch := make(chan Message, subscriberBuffer)
	r.subs[ch] = struct{}{}
	return replay, ch
}

func (r *run) unsubscribe(ch chan Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
}

func (r *run) result() (*measure.RunOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, r.done
}
