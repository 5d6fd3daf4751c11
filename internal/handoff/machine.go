package handoff

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 5

	codeLength = 6
	codeMin    = 100000
	codeSpan   = 900000
)

// GenerateCode returns a uniformly random 6-digit code with no leading zero.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := range len(code) {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Machine applies handoff transitions to a Session in memory. It performs
// no I/O; callers persist the session and run completion side effects.
type Machine struct {
	TTL         time.Duration
	MaxAttempts int
	// NewCode generates one code. Nil means GenerateCode.
	NewCode func() (string, error)
}

func (m Machine) ttl() time.Duration {
	if m.TTL <= 0 {
		return DefaultTTL
	}
	return m.TTL
}

func (m Machine) maxAttempts() int {
	if m.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return m.MaxAttempts
}

// codePair returns two codes that differ from each other.
func (m Machine) codePair() (string, string, error) {
	gen := m.NewCode
	if gen == nil {
		gen = GenerateCode
	}
	owner, err := gen()
	if err != nil {
		return "", "", err
	}
	for {
		counterpart, err := gen()
		if err != nil {
			return "", "", err
		}
		if counterpart != owner {
			return owner, counterpart, nil
		}
	}
}

// restart puts s into a fresh ACTIVE state with new codes.
func (m Machine) restart(s *Session, now time.Time) error {
	owner, counterpart, err := m.codePair()
	if err != nil {
		return err
	}
	s.OwnerCode = owner
	s.CounterpartCode = counterpart
	s.OwnerAttempts = 0
	s.CounterpartAttempts = 0
	s.OwnerVerifiedCounterpart = false
	s.CounterpartVerifiedOwner = false
	s.Locked = false
	s.Status = StatusActive
	s.ExpiresAt = now.Add(m.ttl())
	s.UpdatedAt = now
	return nil
}

// Start initializes a new session created at now.
func (m Machine) Start(s *Session, now time.Time) error {
	if err := m.restart(s, now); err != nil {
		return fmt.Errorf("starting handoff: %w", err)
	}
	s.CreatedAt = now
	return nil
}

// Reset restarts s from scratch, whatever state it is in.
func (m Machine) Reset(s *Session, now time.Time) error {
	if err := m.restart(s, now); err != nil {
		return fmt.Errorf("resetting handoff: %w", err)
	}
	return nil
}

// Outcome describes what a submission did to the session.
type Outcome struct {
	Role      Role `json:"role"`
	Verified  bool `json:"verified"`
	Completed bool `json:"completed"`
	Attempts  int  `json:"attempts"`
	Remaining int  `json:"attempts_remaining"`
	// Changed reports whether the session must be persisted.
	Changed bool `json:"-"`
}

// Submit applies role's attempt to verify the other party's code. The
// session may be modified even when an error is returned; Outcome.Changed
// tells the caller whether to persist it.
//
// The attempt limit is checked before counting, so the attempt that
// reaches the limit is still evaluated and only the following call locks
// the session.
func (m Machine) Submit(s *Session, role Role, code string, now time.Time) (Outcome, error) {
	out := Outcome{Role: role}
	if !role.IsValid() {
		return out, ErrNotParty
	}
	if s.Locked {
		return out, ErrLocked
	}
	if s.EffectiveStatus(now) != StatusActive {
		return out, ErrExpired
	}
	if !ValidCode(code) {
		return out, ErrInvalidCode
	}

	limit := m.maxAttempts()
	attempts, verified, expected := m.party(s, role)
	if *attempts >= limit {
		s.Locked = true
		s.Status = StatusLocked
		s.UpdatedAt = now
		out.Attempts = *attempts
		out.Changed = true
		return out, ErrLocked
	}

	*attempts++
	s.UpdatedAt = now
	out.Changed = true
	out.Attempts = *attempts
	out.Remaining = limit - *attempts

	if subtle.ConstantTimeCompare([]byte(code), []byte(expected)) != 1 {
		return out, &IncorrectCodeError{Role: role, Attempts: out.Attempts, Remaining: out.Remaining}
	}

	*verified = true
	out.Verified = true
	if s.OwnerVerifiedCounterpart && s.CounterpartVerifiedOwner {
		s.Status = StatusCompleted
		out.Completed = true
	}
	return out, nil
}

// party returns role's attempt counter and verified flag, and the code role
// must type: the other party's.
func (m Machine) party(s *Session, role Role) (*int, *bool, string) {
	switch role {
	case RoleOwner:
		return &s.OwnerAttempts, &s.OwnerVerifiedCounterpart, s.CounterpartCode
	case RoleCounterpart:
		return &s.CounterpartAttempts, &s.CounterpartVerifiedOwner, s.OwnerCode
	}
	panic(fmt.Sprintf("handoff: unknown role %q", role))
}
