package engine

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
)

const (
	maxNameLen        = 200
	maxDescriptionLen = 5000
)

type ProductInput struct {
	Name        string
	Description string
	ImageURL    string
	Price       float64
}

// ProductPatch carries the fields of a partial update; nil means unchanged.
type ProductPatch struct {
	Name        *string
	Description *string
	ImageURL    *string
	Price       *float64
}

func validateProductInput(in ProductInput) error {
	if strings.TrimSpace(in.Name) == "" || len(in.Name) > maxNameLen {
		return errors.Wrap(domain.ErrInvalidInput, "bad name")
	}
	if strings.TrimSpace(in.Description) == "" || len(in.Description) > maxDescriptionLen {
		return errors.Wrap(domain.ErrInvalidInput, "bad description")
	}
	if strings.TrimSpace(in.ImageURL) == "" {
		return errors.Wrap(domain.ErrInvalidInput, "bad image url")
	}
	if in.Price < 0 {
		return errors.Wrap(domain.ErrInvalidInput, "price must be >= 0")
	}
	return nil
}

func (e *Engine) CreateProduct(ctx context.Context, actor domain.Principal, in ProductInput) (*domain.Product, error) {
	if err := validateProductInput(in); err != nil {
		return nil, err
	}
	now := e.now()
	p := domain.Product{
		ID:          uuid.New(),
		OwnerID:     actor.ID,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		Price:       domain.RoundCents(in.Price),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *Engine) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	if id == uuid.Nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "missing product id")
	}
	return e.store.GetProduct(ctx, id)
}

func (e *Engine) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return e.store.ListProducts(ctx)
}

// UpdateProduct applies a partial update. The price is immutable while an
// ACTIVE reservation holds the product, unless the actor is privileged: the
// held amount is a snapshot and drifting the listed price under a live hold
// would confuse both sides.
func (e *Engine) UpdateProduct(ctx context.Context, actor domain.Principal, id uuid.UUID, patch ProductPatch) (*domain.Product, error) {
	if id == uuid.Nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "missing product id")
	}
	p, err := e.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged && p.OwnerID != actor.ID {
		return nil, domain.ErrForbidden
	}

	if patch.Price != nil && *patch.Price != p.Price {
		if *patch.Price < 0 {
			return nil, errors.Wrap(domain.ErrInvalidInput, "price must be >= 0")
		}
		if !actor.Privileged {
			active, err := e.store.FindActiveByProduct(ctx, []uuid.UUID{id})
			if err != nil {
				return nil, err
			}
			if _, held := active[id]; held {
				return nil, domain.ErrPriceLocked
			}
		}
		p.Price = domain.RoundCents(*patch.Price)
	}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" || len(*patch.Name) > maxNameLen {
			return nil, errors.Wrap(domain.ErrInvalidInput, "bad name")
		}
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		if len(*patch.Description) > maxDescriptionLen {
			return nil, errors.Wrap(domain.ErrInvalidInput, "bad description")
		}
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.ImageURL != nil {
		p.ImageURL = strings.TrimSpace(*patch.ImageURL)
	}
	p.UpdatedAt = e.now()

	if err := e.store.UpdateProduct(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProduct removes a product. Forbidden while an ACTIVE reservation
// exists unless the actor is privileged.
func (e *Engine) DeleteProduct(ctx context.Context, actor domain.Principal, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.Wrap(domain.ErrInvalidInput, "missing product id")
	}
	p, err := e.store.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if !actor.Privileged && p.OwnerID != actor.ID {
		return domain.ErrForbidden
	}
	if !actor.Privileged {
		active, err := e.store.FindActiveByProduct(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		if _, held := active[id]; held {
			return domain.ErrConflict
		}
	}
	return e.store.DeleteProduct(ctx, id)
}
