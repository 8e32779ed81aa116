package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"freightflow/auth"
)

// Users is an in-process auth.Repository.
type Users struct {
	mu      sync.RWMutex
	byEmail map[string]string
	users   map[string]auth.User
}

func NewUsers() *Users {
	return &Users{byEmail: map[string]string{}, users: map[string]auth.User{}}
}

func (u *Users) CreateUser(_ context.Context, params auth.CreateUserParams) (auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	email := strings.ToLower(params.Email)
	if _, exists := u.byEmail[email]; exists {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	now := time.Now().UTC()
	user := auth.User{
		ID:           newID(),
		Email:        email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Phone:        params.Phone,
		Document:     params.Document,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.byEmail[email] = user.ID
	u.users[user.ID] = user
	return user, nil
}

func (u *Users) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.byEmail[strings.ToLower(email)]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u.users[id], nil
}

func (u *Users) GetUserByID(_ context.Context, userID string) (auth.User, error) {
	return u.byID(userID)
}

func (u *Users) byID(id string) (auth.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

func (u *Users) name(id string) string {
	user, err := u.byID(id)
	if err != nil {
		return ""
	}
	return user.FullName
}
