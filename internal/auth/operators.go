package auth

import (
	"fmt"
	"sync"

	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
)

// OperatorStore authenticates the operators listed in configuration.
type OperatorStore struct {
	operators map[string]Operator

	// dummyHash is verified for unknown usernames so response time does not
	// reveal which usernames exist.
	dummyOnce sync.Once
	dummyHash string
}

// NewOperatorStore builds a store from security.operators.
func NewOperatorStore(cfgs []config.OperatorConfig) (*OperatorStore, error) {
	s := &OperatorStore{operators: make(map[string]Operator, len(cfgs))}
	for _, c := range cfgs {
		op := Operator{Username: c.Username, PasswordHash: c.PasswordHash, Role: Role(c.Role)}
		if !IsValidUsername(op.Username) {
			return nil, fmt.Errorf("%w: username %q", ErrInvalidOperator, op.Username)
		}
		if !IsValidRole(op.Role) {
			return nil, fmt.Errorf("%w: %s has unknown role %q", ErrInvalidOperator, op.Username, op.Role)
		}
		if _, err := decodePHC(op.PasswordHash); err != nil {
			return nil, fmt.Errorf("%w: %s password hash: %w", ErrInvalidOperator, op.Username, err)
		}
		if _, dup := s.operators[op.Username]; dup {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrInvalidOperator, op.Username)
		}
		s.operators[op.Username] = op
	}
	return s, nil
}

// Len returns the number of configured operators.
func (s *OperatorStore) Len() int {
	return len(s.operators)
}

// Authenticate returns the operator when username and password match.
func (s *OperatorStore) Authenticate(username, password string) (*Operator, error) {
	op, ok := s.operators[username]
	if !ok {
		s.dummyOnce.Do(func() {
			s.dummyHash, _ = HashPassword("devportal-dummy") //nolint:errcheck // only used for timing
		})
		_, _ = VerifyPassword(password, s.dummyHash) //nolint:errcheck // timing only
		return nil, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, op.PasswordHash)
	if err != nil || !match {
		return nil, ErrInvalidCredentials
	}
	return &op, nil
}

// Lookup returns the operator named username.
func (s *OperatorStore) Lookup(username string) (*Operator, bool) {
	op, ok := s.operators[username]
	if !ok {
		return nil, false
	}
	return &op, true
}
