package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/najdeno/internal/events"
)

// Repository persists sessions.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	// Get returns nil, nil when the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)
	// Update loads the session, calls fn and saves the session if fn
	// returns nil, all in one transaction carried by the ctx passed to fn.
	// It returns ErrNotFound when the session does not exist.
	Update(ctx context.Context, id string, fn func(ctx context.Context, s *Session) error) error
}

// CompletionSink runs the side effects of a completed handoff. It is called
// inside the transaction that marks the session COMPLETED, so an error
// rolls the completion back.
type CompletionSink interface {
	HandoffCompleted(ctx context.Context, s *Session) error
}

// Config holds the session limits.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
}

// Service runs the handoff protocol against a Repository. Submissions and
// resets are serialized per session.
type Service struct {
	repo    Repository
	sink    CompletionSink
	bridge  events.Bridge
	machine Machine
	locks   *keyedMutex

	// Now is the clock. Tests replace it.
	Now func() time.Time
}

// NewService creates a Service. A nil bridge gets a private Hub.
func NewService(repo Repository, sink CompletionSink, bridge events.Bridge, cfg Config) *Service {
	if bridge == nil {
		bridge = events.NewHub()
	}
	return &Service{
		repo:    repo,
		sink:    sink,
		bridge:  bridge,
		machine: Machine{TTL: cfg.TTL, MaxAttempts: cfg.MaxAttempts},
		locks:   newKeyedMutex(),
		Now:     time.Now,
	}
}

// Bridge returns the bridge the service publishes changes to.
func (s *Service) Bridge() events.Bridge { return s.bridge }

// MaxAttempts is the number of submissions each party gets.
func (s *Service) MaxAttempts() int { return s.machine.maxAttempts() }

// CreateParams identifies the items and parties of a new session.
type CreateParams struct {
	LostItemID    int64
	FoundItemID   int64
	OwnerID       int64
	CounterpartID int64
	CreatedBy     int64
}

// Create starts a new session.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if p.OwnerID == p.CounterpartID {
		return nil, ErrSameParty
	}

	sess := &Session{
		ID:            uuid.NewString(),
		LostItemID:    p.LostItemID,
		FoundItemID:   p.FoundItemID,
		OwnerID:       p.OwnerID,
		CounterpartID: p.CounterpartID,
		CreatedBy:     p.CreatedBy,
	}
	if err := s.machine.Start(sess, s.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating handoff: %w", err)
	}

	slog.Info("handoff created", "id", sess.ID, "lost_item", p.LostItemID, "found_item", p.FoundItemID, "by", p.CreatedBy)
	return sess, nil
}

// Get returns the session or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting handoff: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Project returns the view of sess for role at the current time.
func (s *Service) Project(sess *Session, role Role) View {
	return sess.ViewFor(role, s.machine.maxAttempts(), s.Now())
}

// ViewFor loads the session and projects it for userID. Users who are not a
// party get ErrNotParty unless privileged, in which case they see the
// session without codes.
func (s *Service) ViewFor(ctx context.Context, id string, userID int64, privileged bool) (View, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	role, ok := sess.RoleOf(userID)
	if !ok && !privileged {
		return View{}, ErrNotParty
	}
	return s.Project(sess, role), nil
}

// errUnchanged rolls back an Update that left the session as it was.
var errUnchanged = errors.New("session unchanged")

// Submit records userID's attempt to verify the other party's code. A
// wrong code returns *IncorrectCodeError; the counted attempt is kept.
func (s *Service) Submit(ctx context.Context, id string, userID int64, code string) (Outcome, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var out Outcome
	var result error
	err := s.repo.Update(ctx, id, func(ctx context.Context, sess *Session) error {
		role, ok := sess.RoleOf(userID)
		if !ok {
			return ErrNotParty
		}
		out, result = s.machine.Submit(sess, role, code, s.Now())
		if !out.Changed {
			return errUnchanged
		}
		if out.Completed && s.sink != nil {
			if err := s.sink.HandoffCompleted(ctx, sess); err != nil {
				return fmt.Errorf("completing handoff: %w", err)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return Outcome{}, err
	}

	if out.Changed {
		s.bridge.Publish(id)
	}

	switch {
	case out.Completed:
		slog.Info("handoff completed", "id", id, "by", userID)
	case errors.Is(result, ErrLocked) && out.Changed:
		slog.Warn("handoff locked", "id", id, "by", userID, "role", out.Role)
	case errors.Is(result, ErrIncorrectCode):
		slog.Info("handoff code rejected", "id", id, "by", userID, "role", out.Role, "attempts", out.Attempts)
	}
	return out, result
}

// Reset restarts the session with new codes and zeroed counters from any
// state.
func (s *Service) Reset(ctx context.Context, id string, actorID int64) (*Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var reset Session
	err := s.repo.Update(ctx, id, func(ctx context.Context, sess *Session) error {
		if err := s.machine.Reset(sess, s.Now()); err != nil {
			return err
		}
		reset = *sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bridge.Publish(id)
	slog.Info("handoff reset", "id", id, "by", actorID, "expires_at", reset.ExpiresAt)
	return &reset, nil
}
