package firestore

import (
	"context"
	"errors"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
)

const usersCollection = "users"

// UserRepository resolves user profiles for notification payloads.
type UserRepository struct {
	users *pfirestore.Collection[domain.User]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		users: pfirestore.NewCollection[domain.User](provider, usersCollection),
	}, nil
}

// FindByID fetches the user document.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.users == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := doc.Data
	user.ID = doc.ID
	return user, nil
}
