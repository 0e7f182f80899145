// Package buffer provides a generic, thread-safe bounded buffer.
//
// The client uses it as the reconnect buffer: commands submitted while the
// connection is down are held here and flushed, in order, once the connection
// recovers. The Reject policy makes a full buffer fail writes immediately,
// which is how backpressure is surfaced to publishers during reconnection.
package buffer

// Buffer represents a bounded FIFO buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. When the buffer is full the result
	// depends on the overflow policy: Reject returns ErrFull, DropOldest
	// evicts the oldest item to make room.
	Write(item T) error

	// Read retrieves and removes one item from the buffer.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items from the buffer,
	// oldest first.
	ReadBatch(max int) []T

	// Peek retrieves one item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer; subsequent writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// Reject fails the Write with ErrFull, leaving the buffer unchanged.
	Reject OverflowPolicy = iota

	// DropOldest removes the oldest item to make room for new items.
	DropOldest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "Reject"
	case DropOldest:
		return "DropOldest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item evicted by the DropOldest policy
// or discarded by Clear.
type DropCallback[T any] func(item T)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
}

// WithOverflowPolicy sets the overflow behavior for the buffer.
// Defaults to Reject if not specified.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithDropCallback sets a callback invoked for every dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

// NewCircular creates a new circular buffer with the specified capacity.
func NewCircular[T any](capacity int, options ...Option[T]) Buffer[T] {
	opts := &bufferOptions[T]{overflowPolicy: Reject}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return newCircularBuffer(capacity, opts)
}
