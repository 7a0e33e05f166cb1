package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// ProfileRepo persists and loads business profiles.
type ProfileRepo struct{ Pool PgxPool }

func NewProfileRepo(p PgxPool) *ProfileRepo { return &ProfileRepo{Pool: p} }

// Create stores a new profile and returns its id (generates one if empty).
func (r *ProfileRepo) Create(ctx domain.Context, p domain.BusinessProfile) (string, error) {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "profiles"),
	)
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO profiles (id, name, sector, state, county, years_operating, employee_count, annual_revenue, description, goals, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, q, id, p.Name, p.Sector, p.State, p.County,
		p.YearsOperating, p.EmployeeCount, p.AnnualRevenue, p.Description, p.Goals, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=profile.create: %w", err)
	}
	return id, nil
}

// Get loads a profile by id.
func (r *ProfileRepo) Get(ctx domain.Context, id string) (domain.BusinessProfile, error) {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Get")
	defer span.End()
	q := `SELECT id, name, sector, state, county, years_operating, employee_count, annual_revenue, description, goals, created_at
	FROM profiles WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var p domain.BusinessProfile
	if err := row.Scan(&p.ID, &p.Name, &p.Sector, &p.State, &p.County,
		&p.YearsOperating, &p.EmployeeCount, &p.AnnualRevenue, &p.Description, &p.Goals, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BusinessProfile{}, fmt.Errorf("op=profile.get: %w", domain.ErrNotFound)
		}
		return domain.BusinessProfile{}, fmt.Errorf("op=profile.get: %w", err)
	}
	return p, nil
}
