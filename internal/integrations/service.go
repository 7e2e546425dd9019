package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
)

// ErrUnknownIntegration is returned for keys outside the registry.
var ErrUnknownIntegration = errors.New("integrations: unknown integration")

// ConnectionTester probes a configured integration endpoint.
type ConnectionTester func(ctx context.Context, def Definition, config map[string]string) error

// Service handles integration configuration and testing.
type Service struct {
	repo   RepositoryPort
	cipher *Cipher
	test   ConnectionTester
}

// NewService builds Service instance. A nil tester falls back to an
// HTTP reachability probe against the configured api_url.
func NewService(repo RepositoryPort, cipher *Cipher, tester ConnectionTester) *Service {
	if tester == nil {
		tester = httpProbe
	}
	return &Service{repo: repo, cipher: cipher, test: tester}
}

func (s *Service) txRepo(tx pgx.Tx) RepositoryPort {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// List merges the registry with stored state, in registry order.
func (s *Service) List(ctx context.Context) ([]Integration, error) {
	states, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]Integration, 0, len(Registry()))
	for _, def := range Registry() {
		item := Integration{
			Key:         def.Key,
			DisplayName: def.DisplayName,
			Description: def.Description,
			Type:        def.Type,
			Status:      StatusInactive,
		}
		if state, ok := states[def.Key]; ok {
			item.Status = state.Status
			item.Configured = state.Config != ""
			item.LastUsedAt = state.LastUsedAt
			updated := state.UpdatedAt
			item.UpdatedAt = &updated
		}
		items = append(items, item)
	}
	return items, nil
}

// Stats summarises current integration state.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	items, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case StatusActive:
			stats.Active++
		case StatusError:
			stats.Errors++
		}
	}
	return stats, nil
}

// ValidateConfig checks the payload against the definition's required
// fields. Intended as the gateway's Validate hook.
func ValidateConfig(key string, config map[string]string) error {
	def, ok := Lookup(key)
	if !ok {
		return gateway.Invalid("integration", "unknown integration")
	}
	for _, field := range def.RequiredConfig {
		if strings.TrimSpace(config[field]) == "" {
			return gateway.Invalid(field, FieldLabel(field)+" is required")
		}
	}
	return nil
}

// Configure seals and stores the config, activating the integration.
func (s *Service) Configure(ctx context.Context, tx pgx.Tx, key string, config map[string]string) error {
	if _, ok := Lookup(key); !ok {
		return ErrUnknownIntegration
	}
	sealed, err := s.cipher.Seal(config)
	if err != nil {
		return err
	}
	return s.txRepo(tx).SaveConfig(ctx, key, sealed, StatusActive)
}

// Test probes the integration endpoint with the stored config. A
// successful probe stamps last_used; a failed one flips the status to
// error so the dashboard surfaces it.
func (s *Service) Test(ctx context.Context, key string) error {
	def, ok := Lookup(key)
	if !ok {
		return ErrUnknownIntegration
	}
	state, err := s.repo.Get(ctx, key)
	if err != nil {
		return err
	}
	if state.Config == "" {
		return ErrNotConfigured
	}
	config, err := s.cipher.Open(state.Config)
	if err != nil {
		return err
	}

	if err := s.test(ctx, def, config); err != nil {
		if setErr := s.repo.SetStatus(ctx, key, StatusError); setErr != nil {
			return setErr
		}
		return fmt.Errorf("integrations: connection test failed: %w", err)
	}
	if state.Status != StatusActive {
		if err := s.repo.SetStatus(ctx, key, StatusActive); err != nil {
			return err
		}
	}
	return s.repo.TouchLastUsed(ctx, key)
}

// Disable flips the integration off without discarding its config.
func (s *Service) Disable(ctx context.Context, tx pgx.Tx, key string) error {
	if _, ok := Lookup(key); !ok {
		return ErrUnknownIntegration
	}
	return s.txRepo(tx).SetStatus(ctx, key, StatusInactive)
}

func httpProbe(ctx context.Context, def Definition, config map[string]string) error {
	url := config["api_url"]
	if url == "" {
		return errors.New("api_url missing from config")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
