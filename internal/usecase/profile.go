// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
	"github.com/fairyhunter13/biz-intel-reporter/pkg/textx"
)

// ProfileService ingests sanitized business profiles and persists them.
type ProfileService struct {
	Repo domain.ProfileRepository
}

func NewProfileService(r domain.ProfileRepository) ProfileService { return ProfileService{Repo: r} }

// Submit sanitizes free-text fields, validates required fields, and stores
// the profile, returning its generated id.
func (s ProfileService) Submit(ctx domain.Context, p domain.BusinessProfile) (string, error) {
	p.Name = textx.SanitizeText(p.Name)
	p.Sector = textx.SanitizeText(p.Sector)
	p.State = textx.SanitizeText(p.State)
	p.County = textx.SanitizeText(p.County)
	p.Description = textx.SanitizeText(p.Description)
	p.Goals = textx.SanitizeText(p.Goals)

	if p.Name == "" || p.Sector == "" || p.State == "" {
		return "", fmt.Errorf("%w: name, sector and state are required", domain.ErrInvalidArgument)
	}
	if p.YearsOperating < 0 || p.EmployeeCount < 0 || p.AnnualRevenue < 0 {
		return "", fmt.Errorf("%w: numeric fields must be non-negative", domain.ErrInvalidArgument)
	}
	p.CreatedAt = time.Now().UTC()

	id, err := s.Repo.Create(ctx, p)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the stored profile.
func (s ProfileService) Get(ctx domain.Context, id string) (domain.BusinessProfile, error) {
	if id == "" {
		return domain.BusinessProfile{}, fmt.Errorf("%w: id required", domain.ErrInvalidArgument)
	}
	return s.Repo.Get(ctx, id)
}
