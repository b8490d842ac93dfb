// Package repository provides SQL-backed persistence for rate table versions
// and calculation records.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
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

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveVersion inserts a new rate table version row.
func (s *SQLStore) SaveVersion(ctx context.Context, v *domain.RateTableVersion) error {
	if v.ID == "" || v.Jurisdiction == "" || v.ProductType == "" {
		return fmt.Errorf("%w: id, jurisdiction and productType are required", ErrInvalidInput)
	}

	tables, err := json.Marshal(v.Tables)
	if err != nil {
		return fmt.Errorf("failed to encode tables: %w", err)
	}

	query := `
		INSERT INTO rate_table_versions (
			id, jurisdiction, product_type, version_number,
			effective_date, expiration_date, status, tables,
			created_by, created_at, approved_by, activated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		v.ID, v.Jurisdiction, v.ProductType, v.VersionNumber,
		v.EffectiveDate, v.ExpirationDate, string(v.Status), string(tables),
		v.CreatedBy, v.CreatedAt, v.ApprovedBy, v.ActivatedAt,
	)
	return err
}

// UpdateVersion rewrites a version row. Draft content edits and the
// draft → validated → approved transitions go through here; activation does
// not (see ActivateVersion).
func (s *SQLStore) UpdateVersion(ctx context.Context, v *domain.RateTableVersion) error {
	tables, err := json.Marshal(v.Tables)
	if err != nil {
		return fmt.Errorf("failed to encode tables: %w", err)
	}

	query := `
		UPDATE rate_table_versions
		SET effective_date = ?, expiration_date = ?, status = ?, tables = ?,
		    approved_by = ?, activated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, s.rebind(query),
		v.EffectiveDate, v.ExpirationDate, string(v.Status), string(tables),
		v.ApprovedBy, v.ActivatedAt, v.ID,
	)
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

const versionColumns = `
	id, jurisdiction, product_type, version_number,
	effective_date, expiration_date, status, tables,
	created_by, created_at, approved_by, activated_at
`

// GetVersion retrieves a version by ID.
func (s *SQLStore) GetVersion(ctx context.Context, id string) (*domain.RateTableVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM rate_table_versions WHERE id = ?`
	return s.scanVersion(s.db.QueryRowContext(ctx, s.rebind(query), id))
}

// GetActiveVersion retrieves the single active version for a key pair.
func (s *SQLStore) GetActiveVersion(ctx context.Context, jurisdiction, productType string) (*domain.RateTableVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM rate_table_versions
		WHERE jurisdiction = ? AND product_type = ? AND status = ?
	`
	return s.scanVersion(s.db.QueryRowContext(ctx, s.rebind(query),
		jurisdiction, productType, string(domain.StatusActive)))
}

// ListVersions retrieves all versions for a key pair, newest first.
func (s *SQLStore) ListVersions(ctx context.Context, jurisdiction, productType string) ([]*domain.RateTableVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM rate_table_versions
		WHERE jurisdiction = ? AND product_type = ?
		ORDER BY version_number DESC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), jurisdiction, productType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*domain.RateTableVersion
	for rows.Next() {
		v, err := s.scanVersionRow(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// NextVersionNumber returns the next monotonic version number for a key pair.
func (s *SQLStore) NextVersionNumber(ctx context.Context, jurisdiction, productType string) (int, error) {
	query := `
		SELECT COALESCE(MAX(version_number), 0)
		FROM rate_table_versions
		WHERE jurisdiction = ? AND product_type = ?
	`

	var max int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), jurisdiction, productType).Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}

// ActivateVersion performs the atomic deployment: retire the current active
// version and activate the target in one transaction. The status
// precondition on the final update makes concurrent activations of the same
// version resolve to exactly one winner; the loser sees zero rows affected
// and the transaction rolls back, leaving the previous active row untouched.
func (s *SQLStore) ActivateVersion(ctx context.Context, versionID, approver string) (*domain.DeploymentResult, error) {
	target, err := s.GetVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.NewDeploymentError(versionID, "version not found", err)
		}
		return nil, err
	}
	if target.Status != domain.StatusApproved {
		return nil, domain.NewDeploymentError(versionID,
			fmt.Sprintf("version is %s, only approved versions can be activated", target.Status), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result := &domain.DeploymentResult{
		ActivatedID:  versionID,
		Jurisdiction: target.Jurisdiction,
		ProductType:  target.ProductType,
		ApprovedBy:   approver,
		ActivatedAt:  now,
	}

	// Retire whatever is currently active for this key pair.
	var retiredID sql.NullString
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT id FROM rate_table_versions
		WHERE jurisdiction = ? AND product_type = ? AND status = ?
	`), target.Jurisdiction, target.ProductType, string(domain.StatusActive))
	if err := row.Scan(&retiredID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if retiredID.Valid {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE rate_table_versions SET status = ?
			WHERE id = ? AND status = ?
		`), string(domain.StatusRetired), retiredID.String, string(domain.StatusActive))
		if err != nil {
			return nil, err
		}
		retired, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		// Under read committed another transaction can retire this row and
		// commit between our select and update; zero rows means we lost the
		// race and must not install a second active version.
		if retired == 0 {
			return nil, domain.NewDeploymentError(versionID, "concurrent activation in progress", nil)
		}
		result.RetiredID = retiredID.String
	}

	// Guarded activation: zero rows affected means we lost a race.
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE rate_table_versions
		SET status = ?, approved_by = ?, activated_at = ?
		WHERE id = ? AND status = ?
	`), string(domain.StatusActive), approver, now, versionID, string(domain.StatusApproved))
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, domain.NewDeploymentError(versionID, "concurrent activation in progress", nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.NewDeploymentError(versionID, "activation commit failed", err)
	}

	return result, nil
}

// SaveCalculation stores a premium calculation for audit and replay.
func (s *SQLStore) SaveCalculation(ctx context.Context, calc *domain.PremiumCalculation) error {
	if calc.ID == "" {
		return fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}

	factors, err := json.Marshal(calc.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode factors: %w", err)
	}

	degraded := 0
	if calc.Degraded {
		degraded = 1
	}

	query := `
		INSERT INTO premium_calculations (
			id, jurisdiction, product_type, base_premium, factors,
			total_premium, monthly_premium, rate_table_version_id,
			degraded, calculated_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		calc.ID, calc.Jurisdiction, calc.ProductType,
		calc.BasePremium.String(), string(factors),
		calc.TotalPremium.String(), calc.MonthlyPremium.String(),
		calc.RateTableVersionID, degraded, calc.CalculatedAt, calc.DurationMs,
	)
	return err
}

// GetCalculation retrieves a calculation by ID.
func (s *SQLStore) GetCalculation(ctx context.Context, id string) (*domain.PremiumCalculation, error) {
	query := `
		SELECT id, jurisdiction, product_type, base_premium, factors,
		       total_premium, monthly_premium, rate_table_version_id,
		       degraded, calculated_at, duration_ms
		FROM premium_calculations
		WHERE id = ?
	`

	var calc domain.PremiumCalculation
	var base, factors, total, monthly string
	var degraded int

	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&calc.ID, &calc.Jurisdiction, &calc.ProductType, &base, &factors,
		&total, &monthly, &calc.RateTableVersionID,
		&degraded, &calc.CalculatedAt, &calc.DurationMs,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(factors), &calc.Factors); err != nil {
		return nil, fmt.Errorf("failed to parse factors: %w", err)
	}
	if calc.BasePremium, err = parseDecimal(base); err != nil {
		return nil, err
	}
	if calc.TotalPremium, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if calc.MonthlyPremium, err = parseDecimal(monthly); err != nil {
		return nil, err
	}
	calc.Degraded = degraded == 1

	return &calc, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanVersion(row *sql.Row) (*domain.RateTableVersion, error) {
	v, err := s.scanVersionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *SQLStore) scanVersionRow(row rowScanner) (*domain.RateTableVersion, error) {
	var v domain.RateTableVersion
	var status, tables string
	var expiration, activated sql.NullTime
	var approvedBy sql.NullString

	err := row.Scan(
		&v.ID, &v.Jurisdiction, &v.ProductType, &v.VersionNumber,
		&v.EffectiveDate, &expiration, &status, &tables,
		&v.CreatedBy, &v.CreatedAt, &approvedBy, &activated,
	)
	if err != nil {
		return nil, err
	}

	v.Status = domain.VersionStatus(status)
	if expiration.Valid {
		t := expiration.Time
		v.ExpirationDate = &t
	}
	if activated.Valid {
		t := activated.Time
		v.ActivatedAt = &t
	}
	if approvedBy.Valid {
		v.ApprovedBy = approvedBy.String
	}
	if err := json.Unmarshal([]byte(tables), &v.Tables); err != nil {
		return nil, fmt.Errorf("failed to parse rate tables for %s: %w", v.ID, err)
	}

	return &v, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored decimal %q: %w", s, err)
	}
	return d, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

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
