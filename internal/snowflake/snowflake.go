// Package snowflake generates 64-bit time-ordered identifiers partitioned into timestamp, worker, process, and
// sequence subfields. IDs created by the same worker compare in creation order. The wire representation is a decimal
// string so that JavaScript clients never lose precision.
package snowflake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Epoch is the custom epoch (2024-01-01T00:00:00Z) in Unix milliseconds. Timestamps are stored relative to it.
const Epoch int64 = 1704067200000

// Bit layout: 42 bits timestamp | 5 bits worker | 5 bits process | 12 bits sequence.
const (
	workerBits   = 5
	processBits  = 5
	sequenceBits = 12

	maxWorker   = (1 << workerBits) - 1
	maxProcess  = (1 << processBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	processShift   = sequenceBits
	workerShift    = sequenceBits + processBits
	timestampShift = sequenceBits + processBits + workerBits
)

// Sentinel errors for the snowflake package.
var (
	ErrInvalidID     = errors.New("invalid snowflake ID")
	ErrWorkerRange   = errors.New("worker ID must be between 0 and 31")
	ErrProcessRange  = errors.New("process ID must be between 0 and 31")
	ErrClockBackward = errors.New("system clock moved backwards")
)

// ID is a 64-bit snowflake identifier. The zero value means "absent".
type ID uint64

// Nil is the absent identifier.
const Nil ID = 0

// String returns the decimal representation used on the wire and in the database.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Timestamp returns the creation time encoded in the identifier.
func (id ID) Timestamp() time.Time {
	ms := int64(id>>timestampShift) + Epoch
	return time.UnixMilli(ms).UTC()
}

// Worker returns the worker subfield.
func (id ID) Worker() int { return int(id>>workerShift) & maxWorker }

// Process returns the process subfield.
func (id ID) Process() int { return int(id>>processShift) & maxProcess }

// IsNil reports whether the identifier is absent.
func (id ID) IsNil() bool { return id == Nil }

// Parse converts a decimal string into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, ErrInvalidID
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(n), nil
}

// MarshalJSON encodes the ID as a decimal string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes an ID from a decimal string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: expected string", ErrInvalidID)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Generator produces snowflake IDs for a single (worker, process) pair. It is safe for concurrent use. Generators are
// constructed once at startup and threaded through explicitly; there is no package-level instance.
type Generator struct {
	mu       sync.Mutex
	worker   uint64
	process  uint64
	lastMS   int64
	sequence uint64
	now      func() time.Time
}

// NewGenerator creates a generator for the given worker and process IDs.
func NewGenerator(worker, process int) (*Generator, error) {
	if worker < 0 || worker > maxWorker {
		return nil, ErrWorkerRange
	}
	if process < 0 || process > maxProcess {
		return nil, ErrProcessRange
	}
	return &Generator{
		worker:  uint64(worker),
		process: uint64(process),
		now:     time.Now,
	}, nil
}

// Next returns a fresh identifier. When the per-millisecond sequence overflows, Next spins until the next millisecond.
func (g *Generator) Next() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMS {
		return Nil, fmt.Errorf("%w: last=%d now=%d", ErrClockBackward, g.lastMS, ms)
	}

	if ms == g.lastMS {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ms <= g.lastMS {
				ms = g.now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMS = ms

	id := uint64(ms-Epoch)<<timestampShift |
		g.worker<<workerShift |
		g.process<<processShift |
		g.sequence
	return ID(id), nil
}
