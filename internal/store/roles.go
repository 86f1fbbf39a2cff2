package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/a1j9o94/jobagent/internal/models"
)

// CreateRoleParams collects the inputs for one ingested posting.
type CreateRoleParams struct {
	Title        string
	Description  string
	PostingURL   string
	UniqueHash   string
	CompanyID    int64
	Location     *string
	Requirements *string
	SalaryRange  *string
}

const roleColumns = `id, title, description, posting_url, unique_hash, status,
	rank_score, rank_rationale, company_id, location, requirements, salary_range, created_at`

func scanRole(row pgx.Row) (models.Role, error) {
	var r models.Role
	var score pgtype.Float8
	var rationale, location, requirements, salary pgtype.Text
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.PostingURL, &r.UniqueHash, &r.Status,
		&score, &rationale, &r.CompanyID, &location, &requirements, &salary, &r.CreatedAt)
	if err != nil {
		return models.Role{}, err
	}
	r.RankScore = float8Ptr(score)
	r.RankRationale = textPtr(rationale)
	r.Location = textPtr(location)
	r.Requirements = textPtr(requirements)
	r.SalaryRange = textPtr(salary)
	return r, nil
}

// CreateRole inserts a role row. The unique index on unique_hash is the
// dedup mechanism: a conflicting insert returns DuplicateRoleError with the
// existing role's id instead of a second row.
func (s *Store) CreateRole(ctx context.Context, p CreateRoleParams) (models.Role, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO roles (title, description, posting_url, unique_hash, status, company_id, location, requirements, salary_range)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (unique_hash) DO NOTHING
		RETURNING `+roleColumns+`
	`, p.Title, p.Description, p.PostingURL, p.UniqueHash, models.RoleSourced,
		p.CompanyID, p.Location, p.Requirements, p.SalaryRange)

	role, err := scanRole(row)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Role{}, fmt.Errorf("insert role: %w", err)
	}

	var existingID int64
	if err := s.pool.QueryRow(ctx, `
		SELECT id FROM roles WHERE unique_hash = $1
	`, p.UniqueHash).Scan(&existingID); err != nil {
		return models.Role{}, fmt.Errorf("select duplicate role: %w", err)
	}
	return models.Role{}, &DuplicateRoleError{ExistingID: existingID}
}

// GetRole fetches a role by id.
func (s *Store) GetRole(ctx context.Context, id int64) (models.Role, error) {
	role, err := scanRole(s.pool.QueryRow(ctx, `
		SELECT `+roleColumns+` FROM roles WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Role{}, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Role{}, fmt.Errorf("select role: %w", err)
	}
	return role, nil
}

// RoleWithCompany bundles a role with its company name for prompts,
// submission payloads, and notifications.
type RoleWithCompany struct {
	models.Role
	CompanyName string
}

// GetRoleWithCompany fetches a role joined with its company.
func (s *Store) GetRoleWithCompany(ctx context.Context, id int64) (RoleWithCompany, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT r.id, r.title, r.description, r.posting_url, r.unique_hash, r.status,
		       r.rank_score, r.rank_rationale, r.company_id, r.location, r.requirements, r.salary_range, r.created_at,
		       c.name
		FROM roles r JOIN companies c ON c.id = r.company_id
		WHERE r.id = $1
	`, id)

	var r models.Role
	var score pgtype.Float8
	var rationale, location, requirements, salary pgtype.Text
	var companyName string
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.PostingURL, &r.UniqueHash, &r.Status,
		&score, &rationale, &r.CompanyID, &location, &requirements, &salary, &r.CreatedAt, &companyName)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoleWithCompany{}, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return RoleWithCompany{}, fmt.Errorf("select role with company: %w", err)
	}
	r.RankScore = float8Ptr(score)
	r.RankRationale = textPtr(rationale)
	r.Location = textPtr(location)
	r.Requirements = textPtr(requirements)
	r.SalaryRange = textPtr(salary)
	return RoleWithCompany{Role: r, CompanyName: companyName}, nil
}

// UpdateRoleRank records a scoring result. Ranked is false on the degraded
// fallback path: score and rationale are still written for visibility, but
// the status stays sourced so the role remains eligible for a real retry.
func (s *Store) UpdateRoleRank(ctx context.Context, id int64, score float64, rationale string, ranked bool) error {
	status := models.RoleSourced
	if ranked {
		status = models.RoleRanked
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE roles SET rank_score = $2, rank_rationale = $3, status = $4 WHERE id = $1
	`, id, score, rationale, status)
	if err != nil {
		return fmt.Errorf("update role rank: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetRoleStatus moves a role through its lifecycle.
func (s *Store) SetRoleStatus(ctx context.Context, id int64, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE roles SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update role status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListRoleIDsByStatus returns up to limit role ids in a given status,
// oldest first. The source sweep uses this to find unranked roles.
func (s *Store) ListRoleIDsByStatus(ctx context.Context, status string, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM roles WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list roles by status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountRolesCreatedBetween reports how many postings were sourced in a
// window. Used by the daily report.
func (s *Store) CountRolesCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM roles WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sourced roles: %w", err)
	}
	return n, nil
}
