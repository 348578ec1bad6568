// Package control carries the motor command from the navigator to the
// actuator.
//
// A Command is always transferred as one record so the actuator never mixes
// fields written by different fusion cycles. Records are versioned by the
// writer's session id and a per-session sequence number.
package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Command is the latest wheel-power setpoint.
type Command struct {
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`

	LeftPower  int `json:"left_power"`
	RightPower int `json:"right_power"`

	// PowerDuration is the fused duration hint in seconds. It is carried
	// with the command but the actuator does not consume it.
	PowerDuration float64 `json:"power_duration"`

	// SearchMode means no sensor saw a target; the powers are not
	// meaningful and the actuator spins in place.
	SearchMode bool `json:"search_mode"`
}

// Neutral reports whether the command drives nothing.
func (c Command) Neutral() bool {
	return c.LeftPower == 0 && c.RightPower == 0 && !c.SearchMode
}

// Sink receives each new command written by the fusion loop.
type Sink interface {
	Publish(cmd Command) error
}

// Writer stamps commands with a session id and sequence number before
// handing them to a Sink. It is the single writer of the control state.
type Writer struct {
	sink    Sink
	session string

	mu   sync.Mutex
	seq  uint64
	last Command
}

// NewWriter creates a Writer with a fresh session id.
func NewWriter(sink Sink) *Writer {
	return &Writer{
		sink:    sink,
		session: uuid.NewString(),
	}
}

// Session returns the writer's session id.
func (w *Writer) Session() string {
	return w.session
}

// Write stamps cmd and publishes it.
func (w *Writer) Write(cmd Command) error {
	w.mu.Lock()
	w.seq++
	cmd.Session = w.session
	cmd.Seq = w.seq
	cmd.Time = time.Now()
	w.last = cmd
	w.mu.Unlock()

	return w.sink.Publish(cmd)
}

// Reset publishes a neutral command.
func (w *Writer) Reset() error {
	return w.Write(Command{})
}

// Last returns the most recently written command.
func (w *Writer) Last() Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Register holds the latest command received by the actuator. Loads and
// stores are lock-free; a stored record is never modified.
type Register struct {
	cur      atomic.Pointer[Command]
	arrived  atomic.Int64 // unix nanos of the last accepted Store, local clock
	received atomic.Int64
	dropped  atomic.Int64
}

// NewRegister returns a register holding a neutral command.
func NewRegister() *Register {
	r := &Register{}
	r.cur.Store(&Command{})
	return r
}

// Store replaces the held command unless cmd is older than it.
// A command from a different session always wins. Reports whether cmd was
// accepted.
func (r *Register) Store(cmd Command) bool {
	for {
		old := r.cur.Load()
		if old.Session == cmd.Session && cmd.Seq <= old.Seq {
			r.dropped.Add(1)
			return false
		}
		c := cmd
		if r.cur.CompareAndSwap(old, &c) {
			r.arrived.Store(time.Now().UnixNano())
			r.received.Add(1)
			return true
		}
	}
}

// Publish implements Sink so a Register can be written to directly within
// one process.
func (r *Register) Publish(cmd Command) error {
	r.Store(cmd)
	return nil
}

// Load returns the held command.
func (r *Register) Load() Command {
	return *r.cur.Load()
}

// Age returns how long ago the held command was accepted, measured on the
// local clock. ok is false if nothing has been accepted yet.
func (r *Register) Age() (age time.Duration, ok bool) {
	ns := r.arrived.Load()
	if ns == 0 {
		return 0, false
	}
	return time.Since(time.Unix(0, ns)), true
}

// Stats returns accepted and dropped counts.
func (r *Register) Stats() (received, dropped int64) {
	return r.received.Load(), r.dropped.Load()
}
