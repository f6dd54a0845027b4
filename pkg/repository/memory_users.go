package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/musa-idm/pkg/domain"
)

// MemoryUsers is an in-process users store with the same contract as
// UsersRepository. It backs development mode and tests.
type MemoryUsers struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*domain.User
	byEmail map[string]uuid.UUID
	writes  int
}

// NewMemoryUsers creates an empty store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		byID:    make(map[uuid.UUID]*domain.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

// Writes returns the number of successful mutations so far.
func (m *MemoryUsers) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Create inserts a new user.
func (m *MemoryUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := emailKey(user.Email)
	if _, ok := m.byEmail[key]; ok {
		return domain.ErrUserAlreadyExists
	}
	if user.Version == 0 {
		user.Version = 1
	}
	m.byID[user.ID] = cloneUser(user)
	m.byEmail[key] = user.ID
	m.writes++
	return nil
}

// GetByID retrieves an active user by ID.
func (m *MemoryUsers) GetByID(_ context.Context, id uuid.UUID, opts ...FindOption) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok || !u.Active {
		return nil, domain.ErrUserNotFound
	}
	return project(u, findOptions(opts)), nil
}

// GetByEmail retrieves an active user by email, ignoring case.
func (m *MemoryUsers) GetByEmail(_ context.Context, email string, opts ...FindOption) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[emailKey(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := m.byID[id]
	if !u.Active {
		return nil, domain.ErrUserNotFound
	}
	return project(u, findOptions(opts)), nil
}

// GetByResetTokenHash retrieves the active user holding hash as an unexpired reset secret.
func (m *MemoryUsers) GetByResetTokenHash(_ context.Context, hash string, now time.Time) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if hash == "" {
		return nil, domain.ErrUserNotFound
	}
	for _, u := range m.byID {
		if !u.Active || u.PasswordResetTokenHash != hash {
			continue
		}
		if u.PasswordResetExpires == nil || !now.Before(*u.PasswordResetExpires) {
			return nil, domain.ErrUserNotFound
		}
		return project(u, FindOptions{}), nil
	}
	return nil, domain.ErrUserNotFound
}

// Save writes user if its version matches the stored one.
func (m *MemoryUsers) Save(_ context.Context, user *domain.User, opts SaveOptions) error {
	if opts.Validate {
		if err := user.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[user.ID]
	if !ok || !stored.Active {
		return domain.ErrUserNotFound
	}
	if stored.Version != user.Version {
		return domain.ErrConflict
	}

	oldKey, newKey := emailKey(stored.Email), emailKey(user.Email)
	if oldKey != newKey {
		if _, taken := m.byEmail[newKey]; taken {
			return domain.ErrUserAlreadyExists
		}
	}

	next := cloneUser(user)
	if !opts.Credentials {
		next.PasswordHash = stored.PasswordHash
		next.PasswordChangedAt = stored.PasswordChangedAt
	}
	next.Availability = cloneAvailability(stored.Availability)
	next.Active = stored.Active
	next.CreatedAt = stored.CreatedAt
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now()

	m.byID[user.ID] = next
	if oldKey != newKey {
		delete(m.byEmail, oldKey)
		m.byEmail[newKey] = user.ID
	}
	m.writes++

	user.Version = next.Version
	user.UpdatedAt = next.UpdatedAt
	return nil
}

// UpdateField writes a single field without a version check.
func (m *MemoryUsers) UpdateField(_ context.Context, id uuid.UUID, field Field, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}

	switch field {
	case FieldActive:
		active, ok := value.(bool)
		if !ok {
			return fmt.Errorf("repository: %s expects bool, got %T", field, value)
		}
		u.Active = active
	case FieldMobile:
		mobile, ok := value.(string)
		if !ok {
			return fmt.Errorf("repository: %s expects string, got %T", field, value)
		}
		if !u.Active {
			return domain.ErrUserNotFound
		}
		u.Mobile = mobile
	case FieldPasswordReset:
		hash, ok := value.(string)
		if !ok || hash == "" {
			return fmt.Errorf("repository: %s expects the stored hash, got %T", field, value)
		}
		if !u.Active {
			return domain.ErrUserNotFound
		}
		if u.PasswordResetTokenHash != hash {
			return domain.ErrConflict
		}
		u.ClearPasswordReset()
	default:
		return fmt.Errorf("repository: field %q is not updatable", field)
	}

	u.Version++
	u.UpdatedAt = time.Now()
	m.writes++
	return nil
}

// UpdateAvailability sets the availability of one day for an active user,
// adding the day when it is not recorded yet.
func (m *MemoryUsers) UpdateAvailability(_ context.Context, id uuid.UUID, day string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok || !u.Active {
		return domain.ErrUserNotFound
	}
	u.SetAvailability(day, available)
	m.writes++
	return nil
}

// FindAvailableTalents returns the active talents available on day, oldest
// account first.
func (m *MemoryUsers) FindAvailableTalents(_ context.Context, day string) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.User
	for _, u := range m.byID {
		if u.Active && u.Type == domain.UserTypeTalent && u.AvailableOn(day) {
			out = append(out, project(u, FindOptions{}))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func project(u *domain.User, o FindOptions) *domain.User {
	c := cloneUser(u)
	if !o.WithCredentials {
		c.PasswordHash = ""
	}
	return c
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.BirthDate = cloneTime(u.BirthDate)
	c.PasswordChangedAt = cloneTime(u.PasswordChangedAt)
	c.EmailVerificationExpires = cloneTime(u.EmailVerificationExpires)
	c.MobileVerificationExpires = cloneTime(u.MobileVerificationExpires)
	c.PasswordResetExpires = cloneTime(u.PasswordResetExpires)
	c.Availability = cloneAvailability(u.Availability)
	return &c
}

func cloneAvailability(a []domain.DayAvailability) []domain.DayAvailability {
	if a == nil {
		return nil
	}
	return append([]domain.DayAvailability(nil), a...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
