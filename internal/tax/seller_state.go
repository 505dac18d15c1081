package tax

import (
	"context"
	"strings"
	"sync"

	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

// SellerStateResolver answers "which state ships this product" for one
// request. Lookups by creator email are cached for the resolver's lifetime.
type SellerStateResolver struct {
	directory sellers.Repository
	homeState string

	mu    sync.Mutex
	cache map[string]string
}

// NewSellerStateResolver returns a resolver scoped to a single request.
func (c *Calculator) NewSellerStateResolver(directory sellers.Repository) *SellerStateResolver {
	return &SellerStateResolver{
		directory: directory,
		homeState: c.homeState,
		cache:     map[string]string{},
	}
}

// Resolve applies the precedence: admin-owned stock ships from the home
// state; then the product's own seller state; then the seller directory by
// creator email; products without a creator ship from the home state. An
// unknown seller resolves to "" and is therefore taxed as interstate.
func (r *SellerStateResolver) Resolve(ctx context.Context, p models.Product) (string, error) {
	if p.IsAdminProduct {
		return r.homeState, nil
	}
	if p.SellerState != nil && strings.TrimSpace(*p.SellerState) != "" {
		return strings.TrimSpace(*p.SellerState), nil
	}
	email := ""
	if p.CreatedByEmail != nil {
		email = sellers.NormalizeEmail(*p.CreatedByEmail)
	}
	if email == "" {
		return r.homeState, nil
	}

	r.mu.Lock()
	state, ok := r.cache[email]
	r.mu.Unlock()
	if ok {
		return state, nil
	}
	if r.directory == nil {
		return "", nil
	}

	seller, err := r.directory.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if seller != nil {
		state = seller.State
	}
	r.mu.Lock()
	r.cache[email] = state
	r.mu.Unlock()
	return state, nil
}
