package firestore

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/shopfront/api/internal/platform/firestore"
)

const cartsCollection = "carts"

// CartRepository clears user carts after successful order placement.
// Carts are stored one document per user keyed by user ID.
type CartRepository struct {
	carts *pfirestore.Collection[map[string]any]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		carts: pfirestore.NewCollection[map[string]any](provider, cartsCollection),
	}, nil
}

// Clear removes the user's cart document. A missing cart is not an error.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if r == nil || r.carts == nil {
		return errors.New("cart repository not initialised")
	}
	ref, err := r.carts.Doc(ctx, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}
