// Package settings stores the tunable system configuration as a
// sectioned key/value table.
package settings

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Known sections, in display order.
var sectionOrder = []string{"general", "security", "confidential", "notifications"}

// Setting is one key/value row.
type Setting struct {
	Section string
	Key     string
	Value   string
	Label   string
}

// Section groups settings for display.
type Section struct {
	Key      string
	Title    string
	Settings []Setting
}

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("settings: not found")

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RepositoryPort defines persistence for settings.
type RepositoryPort interface {
	All(ctx context.Context) ([]Setting, error)
	BySection(ctx context.Context, section string) ([]Setting, error)
	Upsert(ctx context.Context, section, key, value string) error
	WithTx(tx pgx.Tx) RepositoryPort
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	db DBTX
}

// NewRepository builds Repository instance.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to an open transaction.
func (r *Repository) WithTx(tx pgx.Tx) RepositoryPort {
	return &Repository{db: tx}
}

// All returns every setting ordered by section then key.
func (r *Repository) All(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT section, key, value FROM settings ORDER BY section, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// BySection returns one section's settings ordered by key.
func (r *Repository) BySection(ctx context.Context, section string) ([]Setting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT section, key, value FROM settings WHERE section = $1 ORDER BY key`, section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// Upsert writes one key/value pair.
func (r *Repository) Upsert(ctx context.Context, section, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (section, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (section, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		section, key, value)
	return err
}

func collect(rows pgx.Rows) ([]Setting, error) {
	var items []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Section, &s.Key, &s.Value); err != nil {
			return nil, err
		}
		s.Label = label(s.Key)
		items = append(items, s)
	}
	return items, rows.Err()
}

var titleCaser = cases.Title(language.English)

func label(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

// Service handles settings reads and diffs updates for auditing.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) txRepo(tx pgx.Tx) RepositoryPort {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// Sections groups all settings for display, known sections first.
func (s *Service) Sections(ctx context.Context) ([]Section, error) {
	items, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	bySection := make(map[string][]Setting)
	for _, item := range items {
		bySection[item.Section] = append(bySection[item.Section], item)
	}

	var sections []Section
	seen := make(map[string]bool)
	for _, key := range sectionOrder {
		if settings, ok := bySection[key]; ok {
			sections = append(sections, Section{Key: key, Title: label(key), Settings: settings})
			seen[key] = true
		}
	}
	var rest []string
	for key := range bySection {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		sections = append(sections, Section{Key: key, Title: label(key), Settings: bySection[key]})
	}
	return sections, nil
}

// Get returns one value.
func (s *Service) Get(ctx context.Context, section, key string) (string, error) {
	items, err := s.repo.BySection(ctx, section)
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if item.Key == key {
			return item.Value, nil
		}
	}
	return "", ErrNotFound
}

// UpdateSection applies the submitted values to one section inside the
// gateway's transaction, returning old/new maps holding only the keys
// that actually changed.
func (s *Service) UpdateSection(ctx context.Context, tx pgx.Tx, section string, values map[string]string) (map[string]any, map[string]any, error) {
	repo := s.txRepo(tx)
	current, err := repo.BySection(ctx, section)
	if err != nil {
		return nil, nil, err
	}
	existing := make(map[string]string, len(current))
	for _, item := range current {
		existing[item.Key] = item.Value
	}

	oldValues := make(map[string]any)
	newValues := make(map[string]any)
	for key, value := range values {
		prev, ok := existing[key]
		if ok && prev == value {
			continue
		}
		if err := repo.Upsert(ctx, section, key, value); err != nil {
			return nil, nil, err
		}
		if ok {
			oldValues[key] = prev
		}
		newValues[key] = value
	}
	return oldValues, newValues, nil
}
