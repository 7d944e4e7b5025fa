package adapters

import (
	"context"
	"sync"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
)

// DirectoryUser is one account known to the in-memory directory.
type DirectoryUser struct {
	ID            id.UserID
	FirstName     string
	LastName      string
	Email         string
	EmailVerified bool
}

// InMemoryDirectory stands in for the accounts service in development.
type InMemoryDirectory struct {
	mu    sync.RWMutex
	users map[id.UserID]DirectoryUser
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{users: make(map[id.UserID]DirectoryUser)}
}

// Put adds or replaces a user.
func (d *InMemoryDirectory) Put(u DirectoryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *InMemoryDirectory) IsEmailVerified(_ context.Context, userID id.UserID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	return u.EmailVerified, nil
}

func (d *InMemoryDirectory) ResolveUserIdentity(_ context.Context, userID id.UserID) (models.UserIdentity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return models.UserIdentity{}, sentinel.ErrNotFound
	}
	return models.UserIdentity{Name: fullName(u.FirstName, u.LastName), Email: u.Email}, nil
}
