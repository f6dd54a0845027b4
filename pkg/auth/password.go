package auth

import (
	"sync"
	"time"

	"github.com/tendant/musa-idm/pkg/domain"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost is the work factor used for stored password hashes.
	DefaultBcryptCost = 12

	// bcrypt only considers the first 72 bytes.
	maxPasswordBytes = 72
)

// CredentialStore hashes and verifies passwords.
type CredentialStore struct {
	cost int
	now  func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewCredentialStore creates a store hashing at cost. A zero cost selects
// DefaultBcryptCost and a nil now selects time.Now.
func NewCredentialStore(cost int, now func() time.Time) *CredentialStore {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{cost: cost, now: now}
}

// Hash returns a salted bcrypt hash of plaintext.
func (s *CredentialStore) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", domain.NewValidationError("password", "password must be at most 72 bytes long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. It never fails loudly.
func (s *CredentialStore) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	return err == nil
}

// VerifyDummy spends the same work as Verify against a throwaway hash.
// Login calls it when no user matches so both failure paths cost a compare.
func (s *CredentialStore) VerifyDummy(plaintext string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("musa-idm-dummy-password"), s.cost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(plaintext))
}

// SetPassword replaces the hash on u, stamps passwordChangedAt with the
// current time and drops any pending reset secret.
func (s *CredentialStore) SetPassword(u *domain.User, plaintext string) error {
	hash, err := s.Hash(plaintext)
	if err != nil {
		return err
	}
	changedAt := s.now()

	u.PasswordHash = hash
	u.PasswordChangedAt = &changedAt
	u.ClearPasswordReset()
	return nil
}

// IsHashCost reports whether hash was produced at the given cost.
func IsHashCost(hash string, cost int) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return c == cost
}
