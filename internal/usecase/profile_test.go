package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

func TestProfileSubmit_Success(t *testing.T) {
	repo := newFakeProfileRepo()
	svc := NewProfileService(repo)

	id, err := svc.Submit(context.Background(), domain.BusinessProfile{
		Name:           "  Acme Robotics  ",
		Sector:         "Technology",
		State:          "Texas",
		County:         "Travis County",
		YearsOperating: 6,
		EmployeeCount:  42,
		AnnualRevenue:  3_500_000,
		Description:    "Industrial robots\x00 for warehouses",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Acme Robotics", stored.Name)
	require.Equal(t, "Industrial robots for warehouses", stored.Description)
	require.False(t, stored.CreatedAt.IsZero())
}

func TestProfileSubmit_MissingRequiredFields(t *testing.T) {
	svc := NewProfileService(newFakeProfileRepo())
	for _, p := range []domain.BusinessProfile{
		{Sector: "Technology", State: "Texas"},
		{Name: "Acme", State: "Texas"},
		{Name: "Acme", Sector: "Technology"},
		{Name: "\x00\x01", Sector: "Technology", State: "Texas"},
	} {
		_, err := svc.Submit(context.Background(), p)
		require.Error(t, err)
		require.True(t, errors.Is(err, domain.ErrInvalidArgument))
	}
}

func TestProfileSubmit_NegativeNumerics(t *testing.T) {
	svc := NewProfileService(newFakeProfileRepo())
	_, err := svc.Submit(context.Background(), domain.BusinessProfile{
		Name: "Acme", Sector: "Technology", State: "Texas", EmployeeCount: -1,
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestProfileGet_EmptyID(t *testing.T) {
	svc := NewProfileService(newFakeProfileRepo())
	_, err := svc.Get(context.Background(), "")
	require.True(t, errors.Is(err, domain.ErrInvalidArgument))
}
