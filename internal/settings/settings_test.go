package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type stubSettingsRepo struct {
	values  map[string]map[string]string
	upserts int
}

func newStubSettingsRepo() *stubSettingsRepo {
	return &stubSettingsRepo{values: make(map[string]map[string]string)}
}

func (s *stubSettingsRepo) WithTx(tx pgx.Tx) RepositoryPort { return s }

func (s *stubSettingsRepo) All(ctx context.Context) ([]Setting, error) {
	var out []Setting
	for section, pairs := range s.values {
		for key, value := range pairs {
			out = append(out, Setting{Section: section, Key: key, Value: value, Label: label(key)})
		}
	}
	return out, nil
}

func (s *stubSettingsRepo) BySection(ctx context.Context, section string) ([]Setting, error) {
	var out []Setting
	for key, value := range s.values[section] {
		out = append(out, Setting{Section: section, Key: key, Value: value, Label: label(key)})
	}
	return out, nil
}

func (s *stubSettingsRepo) Upsert(ctx context.Context, section, key, value string) error {
	if s.values[section] == nil {
		s.values[section] = make(map[string]string)
	}
	s.values[section][key] = value
	s.upserts++
	return nil
}

func TestUpdateSectionDiffsChangedKeysOnly(t *testing.T) {
	repo := newStubSettingsRepo()
	repo.values["general"] = map[string]string{
		"app_name": "ATIERA Financial Suite",
		"timezone": "Asia/Manila",
	}
	svc := NewService(repo)

	oldValues, newValues, err := svc.UpdateSection(context.Background(), nil, "general", map[string]string{
		"app_name": "ATIERA Financial Suite",
		"timezone": "UTC",
	})
	if err != nil {
		t.Fatalf("update section: %v", err)
	}
	if len(newValues) != 1 {
		t.Fatalf("expected one changed key, got %v", newValues)
	}
	if oldValues["timezone"] != "Asia/Manila" || newValues["timezone"] != "UTC" {
		t.Fatalf("expected timezone diff, got %v -> %v", oldValues, newValues)
	}
	if repo.upserts != 1 {
		t.Fatalf("expected 1 upsert, got %d", repo.upserts)
	}
	if repo.values["general"]["timezone"] != "UTC" {
		t.Fatalf("expected stored value updated")
	}
}

func TestUpdateSectionRecordsNewKeys(t *testing.T) {
	repo := newStubSettingsRepo()
	svc := NewService(repo)

	oldValues, newValues, err := svc.UpdateSection(context.Background(), nil, "security", map[string]string{
		"max_login_attempts": "5",
	})
	if err != nil {
		t.Fatalf("update section: %v", err)
	}
	if len(oldValues) != 0 {
		t.Fatalf("expected no old value for a new key, got %v", oldValues)
	}
	if newValues["max_login_attempts"] != "5" {
		t.Fatalf("expected new key recorded, got %v", newValues)
	}
}

func TestSectionsOrderKnownSectionsFirst(t *testing.T) {
	repo := newStubSettingsRepo()
	repo.values["security"] = map[string]string{"password_min_length": "8"}
	repo.values["general"] = map[string]string{"app_name": "ATIERA"}
	repo.values["custom"] = map[string]string{"widget": "on"}
	svc := NewService(repo)

	sections, err := svc.Sections(context.Background())
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	if sections[0].Key != "general" || sections[1].Key != "security" {
		t.Fatalf("expected known section order, got %q, %q", sections[0].Key, sections[1].Key)
	}
	if sections[2].Key != "custom" {
		t.Fatalf("expected unknown sections last, got %q", sections[2].Key)
	}
	if sections[0].Title != "General" {
		t.Fatalf("expected titled section, got %q", sections[0].Title)
	}
}

func TestGet(t *testing.T) {
	repo := newStubSettingsRepo()
	repo.values["general"] = map[string]string{"timezone": "Asia/Manila"}
	svc := NewService(repo)

	value, err := svc.Get(context.Background(), "general", "timezone")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "Asia/Manila" {
		t.Fatalf("expected stored value, got %q", value)
	}
	if _, err := svc.Get(context.Background(), "general", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLabel(t *testing.T) {
	if got := label("max_login_attempts"); got != "Max Login Attempts" {
		t.Fatalf("expected title-cased label, got %q", got)
	}
}
