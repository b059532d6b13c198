package commands

import (
	"context"
	"fmt"

	"rfq-sync/domain"
)

// RegisterUser stores the company details of a new user and issues an
// e-mail verification code.
func (s *Service) RegisterUser(ctx context.Context, actingAs domain.Actor, userID, firstName, lastName, email, companyName string) (*domain.UserCompanyDetails, error) {
	if err := authorize(actingAs, userID); err != nil {
		return nil, err
	}
	existing, err := s.store.GetCompanyDetails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load company details %s: %w", userID, err)
	}
	if existing != nil {
		return existing, nil
	}
	d, err := domain.NewUserCompanyDetails(userID, firstName, lastName, email, companyName, s.newCode(), actingAs, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveCompanyDetails(ctx, d); err != nil {
		return nil, fmt.Errorf("save company details %s: %w", userID, err)
	}
	s.commit(ctx, d)
	return d, nil
}

func (s *Service) UpdateCompanyDetails(ctx context.Context, actingAs domain.Actor, userID string, ch domain.CompanyChanges) (*domain.UserCompanyDetails, error) {
	if err := authorize(actingAs, userID); err != nil {
		return nil, err
	}
	d, err := s.store.GetCompanyDetails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load company details %s: %w", userID, err)
	}
	if d == nil {
		return nil, fmt.Errorf("company details %s: %w", userID, domain.ErrNotFound)
	}
	if !d.Update(actingAs, ch, s.now()) {
		return d, nil
	}
	if err := s.store.SaveCompanyDetails(ctx, d); err != nil {
		return nil, fmt.Errorf("save company details %s: %w", userID, err)
	}
	s.commit(ctx, d)
	return d, nil
}
