package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/rs/zerolog"
)

// PositionChecker reports whether an account still holds positions.
// Defined here to avoid an import cycle with the ledger module.
type PositionChecker interface {
	HasPositions(ctx context.Context, accountID int64) (bool, error)
}

// Service enforces account rules on top of the repository.
type Service struct {
	repo      *Repository
	positions PositionChecker
	log       zerolog.Logger
}

// NewService creates a new account service
func NewService(repo *Repository, positions PositionChecker, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		positions: positions,
		log:       log.With().Str("service", "accounts").Logger(),
	}
}

// Create adds an account to the scope. Parents are one level deep: an
// account with a parent cannot itself be a parent, and the parent must
// belong to the same scope.
func (s *Service) Create(ctx context.Context, scope domain.TenantScope, name string, parentID *int64) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: account name required", domain.ErrValidation)
	}

	if parentID != nil {
		parent, err := s.authorized(ctx, scope, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.ParentID != nil {
			return nil, fmt.Errorf("%w: accounts nest one level deep", domain.ErrAggregateAccount)
		}
	}

	account, err := s.repo.Create(ctx, scope, name, parentID, false)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("account_id", account.ID).Str("scope", scope.String()).Msg("Account created")
	return account, nil
}

// EnsureDefault returns the scope's default account, creating it on first use.
func (s *Service) EnsureDefault(ctx context.Context, scope domain.TenantScope) (*Account, error) {
	list, err := s.repo.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].IsDefault {
			return &list[i], nil
		}
	}

	account, err := s.repo.Create(ctx, scope, DefaultAccountName, nil, true)
	if err == domain.ErrDuplicateName {
		// Racing bootstrap: another request created it first.
		list, lerr := s.repo.List(ctx, scope)
		if lerr != nil {
			return nil, lerr
		}
		for i := range list {
			if list[i].IsDefault {
				return &list[i], nil
			}
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("account_id", account.ID).Str("scope", scope.String()).Msg("Default account created")
	return account, nil
}

// Get returns a scope-owned account.
func (s *Service) Get(ctx context.Context, scope domain.TenantScope, id int64) (*Account, error) {
	return s.authorized(ctx, scope, id)
}

// List returns the scope's accounts.
func (s *Service) List(ctx context.Context, scope domain.TenantScope) ([]Account, error) {
	return s.repo.List(ctx, scope)
}

// Rename changes an account's name within its scope.
func (s *Service) Rename(ctx context.Context, scope domain.TenantScope, id int64, name string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: account name required", domain.ErrValidation)
	}
	if _, err := s.authorized(ctx, scope, id); err != nil {
		return nil, err
	}
	if err := s.repo.Rename(ctx, id, name); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes an empty, non-default account. Parents are deletable only
// after their children.
func (s *Service) Delete(ctx context.Context, scope domain.TenantScope, id int64) error {
	account, err := s.authorized(ctx, scope, id)
	if err != nil {
		return err
	}
	if account.IsDefault {
		return domain.ErrDefaultAccount
	}

	hasChildren, err := s.repo.HasChildren(ctx, id)
	if err != nil {
		return err
	}
	if hasChildren {
		return fmt.Errorf("%w: delete child accounts first", domain.ErrAccountNotEmpty)
	}

	held, err := s.positions.HasPositions(ctx, id)
	if err != nil {
		return err
	}
	if held {
		return domain.ErrAccountNotEmpty
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Int64("account_id", id).Str("scope", scope.String()).Msg("Account deleted")
	return nil
}

// authorized loads an account and verifies the scope owns it.
func (s *Service) authorized(ctx context.Context, scope domain.TenantScope, id int64) (*Account, error) {
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.Owns(account.UserID) {
		return nil, domain.ErrOwnership
	}
	return account, nil
}
