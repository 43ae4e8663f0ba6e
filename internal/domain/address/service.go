package address

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service manages a user's saved addresses.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates an address book Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create validates and stores a new address for userID.
func (s *Service) Create(ctx context.Context, userID string, a Address) (*Address, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	a.ID = uuid.NewString()
	a.UserID = userID
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := s.repo.Create(ctx, &a); err != nil {
		return nil, errors.Wrap(err, "create address")
	}
	return &a, nil
}

// List returns the user's addresses, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Address, error) {
	list, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return list, nil
}

// Get returns one of the user's addresses.
func (s *Service) Get(ctx context.Context, userID, id string) (*Address, error) {
	a, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get address %q", id)
	}
	return a, nil
}

// Update replaces the fields of one of the user's addresses.
func (s *Service) Update(ctx context.Context, userID, id string, a Address) (*Address, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.ID = id
	a.UserID = userID
	a.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, &a); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "update address %q", id)
	}
	return &a, nil
}

// Delete removes one of the user's addresses.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrapf(err, "delete address %q", id)
	}
	return nil
}
