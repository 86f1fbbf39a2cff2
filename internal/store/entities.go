package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/a1j9o94/jobagent/internal/models"
)

// GetOrCreateCompany resolves a company by name, inserting it on first
// reference. The unique constraint on name carries the race: a concurrent
// insert simply loses the conflict and re-selects.
func (s *Store) GetOrCreateCompany(ctx context.Context, name string) (models.Company, error) {
	var c models.Company
	var website pgtype.Text

	err := s.pool.QueryRow(ctx, `
		INSERT INTO companies (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, website
	`, name).Scan(&c.ID, &c.Name, &website)
	if err == nil {
		c.Website = textPtr(website)
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Company{}, fmt.Errorf("insert company: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT id, name, website FROM companies WHERE name = $1
	`, name).Scan(&c.ID, &c.Name, &website)
	if err != nil {
		return models.Company{}, fmt.Errorf("select company: %w", err)
	}
	c.Website = textPtr(website)
	return c, nil
}

// GetOrCreateSkill resolves a skill by name, inserting it on first use.
func (s *Store) GetOrCreateSkill(ctx context.Context, name string) (models.Skill, error) {
	var sk models.Skill

	err := s.pool.QueryRow(ctx, `
		INSERT INTO skills (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name
	`, name).Scan(&sk.ID, &sk.Name)
	if err == nil {
		return sk, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Skill{}, fmt.Errorf("insert skill: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT id, name FROM skills WHERE name = $1
	`, name).Scan(&sk.ID, &sk.Name)
	if err != nil {
		return models.Skill{}, fmt.Errorf("select skill: %w", err)
	}
	return sk, nil
}

// LinkRoleSkills attaches skills by name to a role, creating any that are
// new. Existing links are left alone.
func (s *Store) LinkRoleSkills(ctx context.Context, roleID int64, skillNames []string) error {
	for _, name := range skillNames {
		if name == "" {
			continue
		}
		sk, err := s.GetOrCreateSkill(ctx, name)
		if err != nil {
			return err
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO role_skills (role_id, skill_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, roleID, sk.ID)
		if err != nil {
			return fmt.Errorf("link skill %q: %w", name, err)
		}
	}
	return nil
}

// CreateProfile inserts an applicant profile.
func (s *Store) CreateProfile(ctx context.Context, headline, summary string) (models.Profile, error) {
	var p models.Profile
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (headline, summary) VALUES ($1, $2)
		RETURNING id, headline, summary, created_at, updated_at
	`, headline, summary).Scan(&p.ID, &p.Headline, &p.Summary, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

// GetProfile fetches a profile by id.
func (s *Store) GetProfile(ctx context.Context, id int64) (models.Profile, error) {
	var p models.Profile
	err := s.pool.QueryRow(ctx, `
		SELECT id, headline, summary, created_at, updated_at FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.Headline, &p.Summary, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Profile{}, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return p, nil
}

// DeleteProfile removes a profile along with its applications and
// preferences. Roles, companies, and skills are shared and never cascade.
func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM applications WHERE profile_id = $1`, id); err != nil {
		return fmt.Errorf("delete applications: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM preferences WHERE profile_id = $1`, id); err != nil {
		return fmt.Errorf("delete preferences: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// UpsertPreference writes a key/value pair for a profile, replacing any
// prior value for the same key.
func (s *Store) UpsertPreference(ctx context.Context, profileID int64, key, value string) (models.Preference, error) {
	var p models.Preference
	err := s.pool.QueryRow(ctx, `
		INSERT INTO preferences (profile_id, key, value, last_updated)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (profile_id, key) DO UPDATE SET value = EXCLUDED.value, last_updated = NOW()
		RETURNING id, profile_id, key, value, last_updated
	`, profileID, key, value).Scan(&p.ID, &p.ProfileID, &p.Key, &p.Value, &p.LastUpdated)
	if err != nil {
		return models.Preference{}, fmt.Errorf("upsert preference: %w", err)
	}
	return p, nil
}

// PreferencesMap returns all of a profile's preferences keyed by name.
func (s *Store) PreferencesMap(ctx context.Context, profileID int64) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM preferences WHERE profile_id = $1
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("select preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
