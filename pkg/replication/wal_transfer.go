package replication

import (
	"fmt"
	"sync"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/pkg/wal"
)

// Position identifies a point in the WAL byte stream (§4.7 "Log flow").
type Position struct {
	Sequence uint64
	Offset   int64
}

// Envelope carries one WAL record verbatim from Primary to Replica — no
// re-encoding, no reorder.
type Envelope struct {
	Position Position
	Record   wal.Record
}

// Sender is WalSender: single-producer per direction, tracks
// (current_position, ack_position); acks must be monotonic and <= current.
type Sender struct {
	mu      sync.Mutex
	current Position
	acked   Position
}

// NewSender returns a sender starting at the zero position.
func NewSender() *Sender {
	return &Sender{}
}

// Advance records that position has been sent.
func (s *Sender) Advance(pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = pos
}

// Ack records a replica acknowledgment. Rejects non-monotonic acks and acks
// beyond the current position.
func (s *Sender) Ack(pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos.Sequence < s.acked.Sequence {
		return aeroerr.New(aeroerr.CodeReplicationRejected,
			fmt.Errorf("non-monotonic ack: %d < %d", pos.Sequence, s.acked.Sequence),
			aeroerr.WithComponent("replication"))
	}

	if pos.Sequence > s.current.Sequence {
		return aeroerr.New(aeroerr.CodeReplicationRejected,
			fmt.Errorf("ack %d exceeds current position %d", pos.Sequence, s.current.Sequence),
			aeroerr.WithComponent("replication"))
	}

	s.acked = pos

	return nil
}

// Positions returns the current (unacked-inclusive) and acked positions.
func (s *Sender) Positions() (current, acked Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current, s.acked
}

// ReceiveOutcome classifies the result of WalReceiver.Receive.
type ReceiveOutcome int

const (
	Accepted ReceiveOutcome = iota
	Duplicate
	GapDetected
)

func (o ReceiveOutcome) String() string {
	switch o {
	case Accepted:
		return "Accepted"
	case Duplicate:
		return "Duplicate"
	case GapDetected:
		return "GapDetected"
	default:
		return fmt.Sprintf("ReceiveOutcome(%d)", int(o))
	}
}

// ReceiveResult is the outcome of one Receive call, with gap details when
// applicable.
type ReceiveResult struct {
	Outcome  ReceiveOutcome
	Expected uint64
	Received uint64
}

// Receiver is WalReceiver: single-consumer per direction, tracks
// (applied_position, expected_sequence, active).
type Receiver struct {
	mu        sync.Mutex
	applied   Position
	expected  uint64
	active    bool
	onHalt    func(HaltReason)
}

// NewReceiver returns a receiver expecting sequence 1 first.
func NewReceiver(onHalt func(HaltReason)) *Receiver {
	return &Receiver{expected: 1, active: true, onHalt: onHalt}
}

// Receive classifies and (if Accepted) advances past envelope. On
// GapDetected the receiver halts (fatal, caller must also halt its
// replication.Machine via onHalt) and becomes inactive; every subsequent
// Receive returns GapDetected until the receiver is replaced.
func (r *Receiver) Receive(env Envelope) ReceiveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := env.Record.Sequence

	if !r.active {
		return ReceiveResult{Outcome: GapDetected, Expected: r.expected, Received: seq}
	}

	switch {
	case seq < r.expected:
		return ReceiveResult{Outcome: Duplicate, Expected: r.expected, Received: seq}
	case seq > r.expected:
		r.active = false

		if r.onHalt != nil {
			r.onHalt(WalGapDetected)
		}

		return ReceiveResult{Outcome: GapDetected, Expected: r.expected, Received: seq}
	default:
		r.expected = seq + 1

		return ReceiveResult{Outcome: Accepted, Expected: r.expected, Received: seq}
	}
}

// Apply advances the applied position after the caller has durably
// appended the accepted record to its local WAL (§4.7 "Log flow").
func (r *Receiver) Apply(pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applied = pos
}

// Healthy reports whether the receiver has not observed a gap.
func (r *Receiver) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active
}

// AppliedPosition returns the highest position durably applied.
func (r *Receiver) AppliedPosition() Position {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.applied
}
