// Package handoff confirms that an item physically changed hands. Each party
// reads their own one-time code to the other, who types it in; the session
// completes once both sides have verified the other's code.
package handoff

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusLocked    Status = "LOCKED"
	StatusExpired   Status = "EXPIRED"
	StatusCompleted Status = "COMPLETED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusLocked, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// Role identifies one of the two verifying parties.
type Role string

const (
	// RoleOwner is the person who lost the item.
	RoleOwner Role = "owner"
	// RoleCounterpart holds the item and hands it over.
	RoleCounterpart Role = "counterpart"
)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleCounterpart:
		return true
	}
	return false
}

// Other returns the opposite party.
func (r Role) Other() Role {
	switch r {
	case RoleOwner:
		return RoleCounterpart
	case RoleCounterpart:
		return RoleOwner
	}
	return ""
}

// Session is the persisted state of one handoff.
type Session struct {
	ID          string
	LostItemID  int64
	FoundItemID int64

	OwnerID       int64
	CounterpartID int64

	OwnerCode       string
	CounterpartCode string

	OwnerAttempts       int
	CounterpartAttempts int

	// OwnerVerifiedCounterpart is set once the owner typed the counterpart's code.
	OwnerVerifiedCounterpart bool
	// CounterpartVerifiedOwner is set once the counterpart typed the owner's code.
	CounterpartVerifiedOwner bool

	Locked    bool
	Status    Status
	ExpiresAt time.Time

	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleOf returns the role userID plays in the session.
func (s *Session) RoleOf(userID int64) (Role, bool) {
	switch userID {
	case s.OwnerID:
		return RoleOwner, true
	case s.CounterpartID:
		return RoleCounterpart, true
	}
	return "", false
}

// CodeFor returns the code shown to role.
func (s *Session) CodeFor(role Role) string {
	switch role {
	case RoleOwner:
		return s.OwnerCode
	case RoleCounterpart:
		return s.CounterpartCode
	}
	return ""
}

// AttemptsOf returns the submissions role has used.
func (s *Session) AttemptsOf(role Role) int {
	switch role {
	case RoleOwner:
		return s.OwnerAttempts
	case RoleCounterpart:
		return s.CounterpartAttempts
	}
	return 0
}

// Verified reports whether role has verified the other party's code.
func (s *Session) Verified(role Role) bool {
	switch role {
	case RoleOwner:
		return s.OwnerVerifiedCounterpart
	case RoleCounterpart:
		return s.CounterpartVerifiedOwner
	}
	return false
}

// EffectiveStatus is Status with expiry applied: an ACTIVE session past its
// deadline reads as EXPIRED even though the stored status is unchanged.
func (s *Session) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusActive && now.After(s.ExpiresAt) {
		return StatusExpired
	}
	return s.Status
}

// View is what a caller may see of a session. Code holds only the caller's
// own code and is empty for anyone who is not a party.
type View struct {
	ID          string `json:"id"`
	LostItemID  int64  `json:"lost_item_id"`
	FoundItemID int64  `json:"found_item_id"`

	OwnerID       int64 `json:"owner_id"`
	CounterpartID int64 `json:"counterpart_id"`

	Role Role   `json:"role,omitempty"`
	Code string `json:"code,omitempty"`

	Status            Status `json:"status"`
	Attempts          int    `json:"attempts"`
	AttemptsRemaining int    `json:"attempts_remaining"`

	OwnerAttempts            int  `json:"owner_attempts"`
	CounterpartAttempts      int  `json:"counterpart_attempts"`
	OwnerVerifiedCounterpart bool `json:"owner_verified_counterpart"`
	CounterpartVerifiedOwner bool `json:"counterpart_verified_owner"`

	ExpiresAt time.Time `json:"expires_at"`
}

// ViewFor projects the session for role. An invalid role yields a view
// without any code.
func (s *Session) ViewFor(role Role, maxAttempts int, now time.Time) View {
	v := View{
		ID:                       s.ID,
		LostItemID:               s.LostItemID,
		FoundItemID:              s.FoundItemID,
		OwnerID:                  s.OwnerID,
		CounterpartID:            s.CounterpartID,
		Status:                   s.EffectiveStatus(now),
		OwnerAttempts:            s.OwnerAttempts,
		CounterpartAttempts:      s.CounterpartAttempts,
		OwnerVerifiedCounterpart: s.OwnerVerifiedCounterpart,
		CounterpartVerifiedOwner: s.CounterpartVerifiedOwner,
		ExpiresAt:                s.ExpiresAt,
	}
	if role.IsValid() {
		v.Role = role
		v.Code = s.CodeFor(role)
		v.Attempts = s.AttemptsOf(role)
		v.AttemptsRemaining = max(maxAttempts-v.Attempts, 0)
	}
	return v
}
