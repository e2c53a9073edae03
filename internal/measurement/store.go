package measurement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filter controls which measurements a history query returns.
type Filter struct {
	PeripheralID string     // optional: filter by peripheral
	ExperimentID string     // optional: filter by experiment
	Since        *time.Time // optional: measured_at >= Since
	Until        *time.Time // optional: measured_at < Until
	Limit        int        // default 100, max 1000
	Offset       int        // pagination offset
}

// ListResult contains paginated measurement history.
type ListResult struct {
	Measurements []Measurement `json:"measurements"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}

// Store defines the interface for measurement persistence. Only REDUCED
// measurements reach the store; RAW readings never do.
type Store interface {
	Save(ctx context.Context, m *Measurement) error
	GetByID(ctx context.Context, id string) (*Measurement, error)
	ListByKit(ctx context.Context, kitID string, filter Filter) (*ListResult, error)
	CountByKit(ctx context.Context, kitID string) (int, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new measurement store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const measurementColumns = "id, kit_id, peripheral_id, quantity_type_id, experiment_id, physical_quantity, physical_unit, value, measured_at"

// Save inserts a measurement row. Measurements are immutable; there is no
// update path.
func (s *SQLiteStore) Save(ctx context.Context, m *Measurement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MeasuredAt.IsZero() {
		m.MeasuredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (id, kit_id, peripheral_id, quantity_type_id, experiment_id, physical_quantity, physical_unit, value, measured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.KitID, m.PeripheralID,
		nullableString(m.QuantityTypeID), nullableString(m.ExperimentID),
		nullableString(m.PhysicalQuantity), nullableString(m.PhysicalUnit),
		m.Value, m.MeasuredAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting measurement: %w", err)
	}

	return nil
}

// GetByID retrieves a single measurement.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+measurementColumns+" FROM measurements WHERE id = ?", id)

	m, err := scanMeasurement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// ListByKit returns a kit's measurements matching the filter, most recent first.
func (s *SQLiteStore) ListByKit(ctx context.Context, kitID string, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 { //nolint:mnd // max page size for history queries
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	conditions := []string{"kit_id = ?"}
	args := []any{kitID}

	if filter.PeripheralID != "" {
		conditions = append(conditions, "peripheral_id = ?")
		args = append(args, filter.PeripheralID)
	}
	if filter.ExperimentID != "" {
		conditions = append(conditions, "experiment_id = ?")
		args = append(args, filter.ExperimentID)
	}
	if filter.Since != nil {
		conditions = append(conditions, "measured_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		conditions = append(conditions, "measured_at < ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := "SELECT COUNT(*) FROM measurements " + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting measurements: %w", err)
	}

	query := "SELECT " + measurementColumns + " FROM measurements " + where +
		" ORDER BY measured_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying measurements: %w", err)
	}
	defer rows.Close()

	var measurements []Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		measurements = append(measurements, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating measurements: %w", err)
	}

	if measurements == nil {
		measurements = []Measurement{}
	}

	return &ListResult{
		Measurements: measurements,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}, nil
}

// CountByKit returns the total number of persisted measurements for a kit.
func (s *SQLiteStore) CountByKit(ctx context.Context, kitID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM measurements WHERE kit_id = ?", kitID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting measurements: %w", err)
	}
	return count, nil
}

// rowScanner is an interface for sql.Row and sql.Rows Scan methods.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(s rowScanner) (*Measurement, error) {
	var m Measurement
	var quantityTypeID, experimentID, physicalQuantity, physicalUnit sql.NullString
	var measuredAt string

	err := s.Scan(&m.ID, &m.KitID, &m.PeripheralID,
		&quantityTypeID, &experimentID, &physicalQuantity, &physicalUnit,
		&m.Value, &measuredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning measurement: %w", err)
	}

	if quantityTypeID.Valid {
		m.QuantityTypeID = quantityTypeID.String
	}
	if experimentID.Valid {
		m.ExperimentID = experimentID.String
	}
	if physicalQuantity.Valid {
		m.PhysicalQuantity = physicalQuantity.String
	}
	if physicalUnit.Valid {
		m.PhysicalUnit = physicalUnit.String
	}

	m.MeasuredAt, _ = time.Parse(time.RFC3339, measuredAt) //nolint:errcheck // format is controlled

	return &m, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
