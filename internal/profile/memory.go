package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
)

// MemoryStore is an in-process Store for local development and tests
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory profile store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]domain.Profile),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetUserType(_ context.Context, identity string) (domain.UserType, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[identity]
	if !ok {
		return domain.UserTypeUnknown, false, nil
	}
	return p.UserType, true, nil
}

func (m *MemoryStore) CreateProfile(_ context.Context, identity, email string, userType domain.UserType, extra domain.ProfileExtra) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p, exists := m.profiles[identity]
	if !exists {
		p = domain.Profile{Identity: identity, CreatedAt: now}
	}
	p.Email = domain.NormalizeEmail(email)
	p.UserType = userType
	p.FirstName = extra.FirstName
	p.LastName = extra.LastName
	p.AutoCreated = extra.AutoCreated
	if extra.CommerceCustomerID != "" {
		p.CommerceCustomerID = extra.CommerceCustomerID
	}
	p.CommerceLinked = p.CommerceLinked || extra.CommerceLinked || extra.CommerceCustomerID != ""
	p.UpdatedAt = now
	m.profiles[identity] = p
	return nil
}

func (m *MemoryStore) LinkCommerceIdentity(_ context.Context, identity, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[identity]
	if !ok {
		return apperrors.NewNotFoundError("Profile not found")
	}
	p.CommerceCustomerID = customerID
	p.CommerceLinked = true
	p.UpdatedAt = m.now()
	m.profiles[identity] = p
	return nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = domain.NormalizeEmail(email)

	var found *domain.Profile
	for _, p := range m.profiles {
		if p.Email != email {
			continue
		}
		if found == nil || p.UpdatedAt.After(found.UpdatedAt) {
			cp := p
			found = &cp
		}
	}
	return found, nil
}

func (m *MemoryStore) ListByType(_ context.Context, userType domain.UserType, limit int) ([]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Profile
	for _, p := range m.profiles {
		if p.UserType == userType {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SetUserType(_ context.Context, identity string, userType domain.UserType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[identity]
	if !ok {
		return apperrors.NewNotFoundError("Profile not found")
	}
	p.UserType = userType
	p.UpdatedAt = m.now()
	m.profiles[identity] = p
	return nil
}

func (m *MemoryStore) Reassign(_ context.Context, fromIdentity, toIdentity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[fromIdentity]
	if !ok {
		return apperrors.NewNotFoundError("Profile not found")
	}
	p.Identity = toIdentity
	p.PreviousIdentity = fromIdentity
	p.UpdatedAt = m.now()
	m.profiles[toIdentity] = p
	delete(m.profiles, fromIdentity)
	return nil
}

// Len returns the number of stored profiles
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}
