package ratelimit

import (
	"golang.org/x/time/rate"
)

const (
	// WarnEvery is how many violations pass between two warnings
	WarnEvery = 100
	// MaxViolations is the number of dropped messages after which the
	// sender should be disconnected
	MaxViolations = 1000
)

type Verdict int

const (
	Allow Verdict = iota
	Drop
	Disconnect
)

// Limiter is a token bucket that also counts how often it refused. One is
// owned by each session's read loop.
type Limiter struct {
	bucket     *rate.Limiter
	violations int
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Check takes a token and says what to do with the message. The returned
// count is the total violations so far.
func (l *Limiter) Check() (Verdict, int) {
	if l.bucket.Allow() {
		return Allow, l.violations
	}
	l.violations++
	if l.violations > MaxViolations {
		return Disconnect, l.violations
	}
	return Drop, l.violations
}

// ShouldWarn reports whether the n-th violation deserves a log line
func ShouldWarn(n int) bool {
	return n%WarnEvery == 1
}
