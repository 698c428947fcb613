package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Malowking/mcp-sentinel/internal/catalog"
)

// UpsertService inserts or refreshes a registered service row.
func (s *Store) UpsertService(ctx context.Context, svc catalog.Service) error {
	tools, err := json.Marshal(svc.Tools)
	if err != nil {
		return fmt.Errorf("UpsertService: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registered_services (
			service_name, service_url, description, tools, layer, domain,
			is_active, health_status, breaker_state, registered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (service_name) DO UPDATE SET
			service_url = EXCLUDED.service_url,
			description = EXCLUDED.description,
			tools = EXCLUDED.tools,
			layer = EXCLUDED.layer,
			domain = EXCLUDED.domain,
			is_active = EXCLUDED.is_active`,
		svc.Name, svc.URL, svc.Description, tools, svc.Layer, svc.Domain,
		svc.Active, svc.Health, svc.Breaker)
	if err != nil {
		return fmt.Errorf("UpsertService: %w", err)
	}
	return nil
}

// UpdateServiceState mirrors health, breaker, and metric state for a
// service. The registry's in-memory state is authoritative; this write is
// a single-statement read-modify-write on the row.
func (s *Store) UpdateServiceState(ctx context.Context, svc catalog.Service) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE registered_services SET
			is_active = $2,
			health_status = $3,
			breaker_state = $4,
			total_calls = $5,
			success_calls = $6,
			failed_calls = $7,
			avg_latency_ms = $8,
			last_health_check = $9,
			updated_at = NOW()
		WHERE service_name = $1`,
		svc.Name, svc.Active, svc.Health, svc.Breaker,
		svc.Metrics.TotalCalls, svc.Metrics.SuccessCalls, svc.Metrics.FailedCalls,
		svc.Metrics.AvgLatencyMs, nullableTime(svc.LastHealthCheck))
	if err != nil {
		return fmt.Errorf("UpdateServiceState: %w", err)
	}
	return nil
}

// ListServices loads every persisted service, registration order first.
// Used to rehydrate the registry at startup.
func (s *Store) ListServices(ctx context.Context) ([]catalog.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_name, service_url, description, tools, layer, domain,
		       is_active, health_status, breaker_state
		FROM registered_services
		ORDER BY registered_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("ListServices: %w", err)
	}
	defer rows.Close()

	var out []catalog.Service
	for rows.Next() {
		var (
			svc   catalog.Service
			tools []byte
		)
		if err := rows.Scan(&svc.Name, &svc.URL, &svc.Description, &tools,
			&svc.Layer, &svc.Domain, &svc.Active, &svc.Health, &svc.Breaker); err != nil {
			return nil, fmt.Errorf("ListServices: %w", err)
		}
		if len(tools) > 0 {
			if err := json.Unmarshal(tools, &svc.Tools); err != nil {
				return nil, fmt.Errorf("ListServices: tools: %w", err)
			}
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}
