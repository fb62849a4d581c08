// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/refurb-labs/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveListing stores a listing with tenant isolation.
func (r *SQLRepository) SaveListing(ctx context.Context, tenantID string, listing *domain.Listing) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	attributes, _ := json.Marshal(listing.Attributes)

	query := `
		INSERT INTO listings (
			id, tenant_id, title, component, condition,
			base_price, currency, source, attributes,
			timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		listing.ID, tenantID, listing.Title,
		string(listing.Component), string(listing.Condition),
		listing.BasePrice.String(), listing.Currency, listing.Source,
		string(attributes),
		listing.Timestamp, listing.CreatedAt,
	)
	return err
}

// GetListing retrieves a listing by ID with tenant isolation.
func (r *SQLRepository) GetListing(ctx context.Context, tenantID string, listingID string) (*domain.Listing, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, title, component, condition,
			   base_price, currency, source, attributes,
			   timestamp, created_at
		FROM listings
		WHERE tenant_id = ? AND id = ?
	`

	var l domain.Listing
	var component, condition, basePrice, attributes string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, listingID).Scan(
		&l.ID, &l.TenantID, &l.Title, &component, &condition,
		&basePrice, &l.Currency, &l.Source, &attributes,
		&l.Timestamp, &l.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.Component = domain.ComponentType(component)
	l.Condition = domain.ListingCondition(condition)
	l.BasePrice, err = decimal.NewFromString(basePrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base price for %s: %w", l.ID, err)
	}
	if attributes != "" {
		json.Unmarshal([]byte(attributes), &l.Attributes)
	}

	return &l, nil
}

// SaveBenchmark upserts a benchmark catalog row. The catalog is shared
// reference data, so there is no tenant scoping.
func (r *SQLRepository) SaveBenchmark(ctx context.Context, bench *domain.Benchmark) error {
	if bench.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO benchmarks (
			component, model, mark_single, mark_multi, updated_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(component, model) DO UPDATE SET
			mark_single = excluded.mark_single,
			mark_multi = excluded.mark_multi,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		string(bench.Component), bench.Model,
		bench.MarkSingle, bench.MarkMulti,
		time.Now().UTC(),
	)
	return err
}

// GetBenchmark retrieves a benchmark catalog row by component and model.
func (r *SQLRepository) GetBenchmark(ctx context.Context, component domain.ComponentType, model string) (*domain.Benchmark, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidInput)
	}

	query := `
		SELECT component, model, mark_single, mark_multi, updated_at
		FROM benchmarks
		WHERE component = ? AND model = ?
	`

	var b domain.Benchmark
	var comp string

	err := r.db.QueryRowContext(ctx, r.rebind(query), string(component), model).Scan(
		&comp, &b.Model, &b.MarkSingle, &b.MarkMulti, &b.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.Component = domain.ComponentType(comp)
	return &b, nil
}

// SaveRuleset stores a ruleset version with tenant isolation. The rule
// group tree is stored as a JSON document; the engine treats it as an
// opaque snapshot until load.
func (r *SQLRepository) SaveRuleset(ctx context.Context, tenantID string, rs *domain.Ruleset) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	groups, _ := json.Marshal(rs.Groups)

	active := 0
	if rs.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rulesets (
			id, tenant_id, name, priority, version, groups, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			groups = excluded.groups,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, tenantID, rs.Name, rs.Priority,
		rs.Version, string(groups), active,
		now, now,
	)
	return err
}

// GetRuleset retrieves the latest active version of a ruleset with
// tenant isolation.
func (r *SQLRepository) GetRuleset(ctx context.Context, tenantID string, rulesetID string) (*domain.Ruleset, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, priority, version, groups, active, created_at, updated_at
		FROM rulesets
		WHERE tenant_id = ? AND id = ? AND active = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rs domain.Ruleset
	var groups string
	var active int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, rulesetID).Scan(
		&rs.ID, &rs.TenantID, &rs.Name, &rs.Priority,
		&rs.Version, &groups, &active,
		&rs.CreatedAt, &rs.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rs.Active = active == 1
	if err := json.Unmarshal([]byte(groups), &rs.Groups); err != nil {
		return nil, fmt.Errorf("failed to parse ruleset groups: %w", err)
	}

	return &rs, nil
}

// ListRulesets retrieves all active rulesets for a tenant, latest
// version of each.
func (r *SQLRepository) ListRulesets(ctx context.Context, tenantID string) ([]*domain.Ruleset, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT r.id, r.tenant_id, r.name, r.priority, r.version, r.groups, r.active, r.created_at, r.updated_at
		FROM rulesets r
		INNER JOIN (
			SELECT id, MAX(version) AS version
			FROM rulesets
			WHERE tenant_id = ? AND active = 1
			GROUP BY id
		) latest ON r.id = latest.id AND r.version = latest.version
		WHERE r.tenant_id = ? AND r.active = 1
		ORDER BY r.priority, r.name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rulesets []*domain.Ruleset
	for rows.Next() {
		var rs domain.Ruleset
		var groups string
		var active int

		if err := rows.Scan(
			&rs.ID, &rs.TenantID, &rs.Name, &rs.Priority,
			&rs.Version, &groups, &active,
			&rs.CreatedAt, &rs.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rs.Active = active == 1
		if err := json.Unmarshal([]byte(groups), &rs.Groups); err != nil {
			return nil, fmt.Errorf("failed to parse ruleset groups for %s: %w", rs.ID, err)
		}
		rulesets = append(rulesets, &rs)
	}

	return rulesets, rows.Err()
}

// DeleteRuleset soft-deletes a ruleset by setting active = 0 on all of
// its versions.
func (r *SQLRepository) DeleteRuleset(ctx context.Context, tenantID string, rulesetID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rulesets
		SET active = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND active = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, rulesetID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveValuation stores a valuation result with tenant isolation.
func (r *SQLRepository) SaveValuation(ctx context.Context, tenantID string, v *domain.Valuation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	breakdown, _ := json.Marshal(v.Breakdown)
	groupResults, _ := json.Marshal(v.Groups)
	metadata, _ := json.Marshal(v.Metadata)

	query := `
		INSERT INTO valuations (
			id, tenant_id, listing_id, ruleset_id,
			base_price, adjusted_price, breakdown, group_results,
			timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		v.ID, tenantID, v.ListingID, v.RulesetID,
		v.BasePrice.String(), v.AdjustedPrice.String(),
		string(breakdown), string(groupResults),
		v.Timestamp, string(metadata),
	)
	return err
}

// GetValuation retrieves a valuation by ID with tenant isolation.
func (r *SQLRepository) GetValuation(ctx context.Context, tenantID string, valuationID string) (*domain.Valuation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, listing_id, ruleset_id,
			   base_price, adjusted_price, breakdown, group_results,
			   timestamp, metadata
		FROM valuations
		WHERE tenant_id = ? AND id = ?
	`

	var v domain.Valuation
	var basePrice, adjustedPrice, breakdown, groupResults, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, valuationID).Scan(
		&v.ID, &v.TenantID, &v.ListingID, &v.RulesetID,
		&basePrice, &adjustedPrice, &breakdown, &groupResults,
		&v.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.BasePrice, err = decimal.NewFromString(basePrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base price for %s: %w", v.ID, err)
	}
	v.AdjustedPrice, err = decimal.NewFromString(adjustedPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse adjusted price for %s: %w", v.ID, err)
	}

	json.Unmarshal([]byte(breakdown), &v.Breakdown)
	json.Unmarshal([]byte(groupResults), &v.Groups)
	json.Unmarshal([]byte(metadata), &v.Metadata)

	return &v, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
