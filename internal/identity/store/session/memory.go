package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"olympus/internal/identity/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

// InMemory keeps sessions for tests and memory mode.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
}

func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[id.SessionID]*models.Session)}
}

func (s *InMemory) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.sessions[sess.ID] = clone(sess)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return clone(sess), nil
}

// ListByUser returns the user's sessions, newest first.
func (s *InMemory) ListByUser(_ context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.UserID == userID {
			out = append(out, clone(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Execute(_ context.Context, tenantID id.TenantID, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	sess := clone(current)
	if err := validate(sess); err != nil {
		return nil, err
	}
	mutate(sess)
	s.sessions[sess.ID] = sess
	return clone(sess), nil
}

// AdvanceRefresh rotates the access token only if the session is still at
// expectedGeneration and unrevoked. A stale generation is ErrConflict; a
// revoked session is ErrInvalidState.
func (s *InMemory) AdvanceRefresh(_ context.Context, tenantID id.TenantID, sessionID id.SessionID, expectedGeneration int64, accessHash string, accessExpiresAt, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if current.IsRevoked() {
		return nil, sentinel.ErrInvalidState
	}
	if current.Generation != expectedGeneration {
		return nil, sentinel.ErrConflict
	}
	sess := clone(current)
	sess.ApplyRefresh(accessHash, accessExpiresAt, now)
	s.sessions[sess.ID] = sess
	return clone(sess), nil
}

// RevokeAllForUser revokes every live session of the user and returns the
// ones it revoked.
func (s *InMemory) RevokeAllForUser(_ context.Context, tenantID id.TenantID, userID id.UserID, reason models.RevokeReason, now time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []*models.Session
	for _, sess := range s.sessions {
		if sess.TenantID != tenantID || sess.UserID != userID || sess.IsRevoked() {
			continue
		}
		sess.ApplyRevocation(reason, now)
		revoked = append(revoked, clone(sess))
	}
	return revoked, nil
}

func (s *InMemory) lookup(tenantID id.TenantID, sessionID id.SessionID) (*models.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if sess.TenantID != tenantID {
		return nil, sentinel.ErrTenantMismatch
	}
	return sess, nil
}

func clone(sess *models.Session) *models.Session {
	c := *sess
	c.Roles = append(c.Roles[:0:0], sess.Roles...)
	if sess.RevokedAt != nil {
		t := *sess.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
