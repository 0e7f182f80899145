// Package nuid generates unique identifiers used to mint correlation
// subjects (inboxes) for request/reply.
//
// An identifier is 22 characters: a 12-character random prefix followed by a
// 10-character base-62 encoding of a monotonic counter. The counter advances
// by a per-instance random step on every generation; when it would exceed the
// encodable range, the prefix is regenerated from a cryptographically secure
// source and the counter is reseeded. Uniqueness rests on prefix entropy plus
// per-instance counter monotonicity.
//
// A NUID is deliberately not safe for concurrent use: each logical execution
// unit owns its own instance, which keeps generation lock-free. Monotonicity
// is guaranteed only within one instance.
package nuid

import (
	crand "crypto/rand"
	"fmt"
	"math/rand"
	"time"
)

const (
	digits   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	base     = 62
	preLen   = 12
	seqLen   = 10
	maxSeq   = int64(839299365868340224) // base^seqLen
	minInc   = int64(33)
	maxInc   = int64(333)
	totalLen = preLen + seqLen
)

// NUID is a single generator instance. Not safe for concurrent use.
type NUID struct {
	pre []byte
	seq int64
	inc int64
	rng *rand.Rand
}

// New creates a generator with a crypto-random prefix and a randomly seeded
// counter and increment step.
func New() *NUID {
	n := &NUID{
		pre: make([]byte, preLen),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	n.resetSequential()
	n.randomizePrefix()
	return n
}

// Next returns the next identifier. The trailing 10 characters encode a
// counter that is strictly increasing until a rollover, at which point the
// prefix changes and the counter reseeds.
func (n *NUID) Next() string {
	n.seq += n.inc
	if n.seq >= maxSeq {
		n.randomizePrefix()
		n.resetSequential()
	}

	var b [totalLen]byte
	copy(b[:preLen], n.pre)

	// Base-62 digits written least-significant first into the trailing
	// positions, so the rightmost character changes most frequently.
	for i, l := totalLen, n.seq; i > preLen; l /= base {
		i--
		b[i] = digits[l%base]
	}

	return string(b[:])
}

// randomizePrefix draws a fresh 12-character prefix from crypto/rand.
func (n *NUID) randomizePrefix() {
	var raw [preLen]byte
	if _, err := crand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("nuid: entropy source failed: %v", err))
	}
	for i, r := range raw {
		n.pre[i] = digits[int(r)%base]
	}
}

// resetSequential reseeds the counter and draws a new increment step.
func (n *NUID) resetSequential() {
	n.seq = n.rng.Int63n(maxSeq)
	n.inc = minInc + n.rng.Int63n(maxInc-minInc)
}
