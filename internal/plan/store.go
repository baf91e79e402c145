package plan

import "context"

// Store persists the plan catalogue.
type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	GetByExternalPriceID(ctx context.Context, priceID string) (*Plan, error)
	List(ctx context.Context, activeOnly bool) ([]*Plan, error)
	Retire(ctx context.Context, id string) error
}
