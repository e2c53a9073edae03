package kit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for kit persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a kit by its unique identifier.
	// Returns ErrKitNotFound if the kit does not exist.
	GetByID(ctx context.Context, id string) (*Kit, error)

	// GetBySerial retrieves a kit by its serial.
	// Returns ErrKitNotFound if the kit does not exist.
	GetBySerial(ctx context.Context, serial string) (*Kit, error)

	// List retrieves all kits.
	List(ctx context.Context) ([]Kit, error)

	// ListOnMap retrieves all kits with the show-on-map privacy flag set.
	ListOnMap(ctx context.Context) ([]Kit, error)

	// Create inserts a new kit.
	// Returns ErrKitExists if a kit with the same serial already exists.
	Create(ctx context.Context, k *Kit) error

	// Update modifies an existing kit.
	// Returns ErrKitNotFound if the kit does not exist.
	Update(ctx context.Context, k *Kit) error

	// Delete removes a kit by ID.
	// Returns ErrKitNotFound if the kit does not exist.
	Delete(ctx context.Context, id string) error

	// AddMember links a user to a kit.
	// Returns ErrMembershipExists if the link already exists.
	AddMember(ctx context.Context, kitID, userID string) error

	// RemoveMember unlinks a user from a kit.
	// Returns ErrMembershipNotFound if the link does not exist.
	RemoveMember(ctx context.Context, kitID, userID string) error

	// ListMemberIDs returns the user ids linked to a kit.
	ListMemberIDs(ctx context.Context, kitID string) ([]string, error)

	// ListKitIDsForUser returns the kit ids a user is a member of.
	ListKitIDsForUser(ctx context.Context, userID string) ([]string, error)

	// ListPeripherals retrieves a kit's peripherals with their definitions
	// and declared quantity types resolved.
	ListPeripherals(ctx context.Context, kitID string) ([]Peripheral, error)

	// AddPeripheral attaches a peripheral to a kit.
	// Returns ErrPeripheralExists if the name is taken on the kit, or
	// ErrDefinitionNotFound if the definition does not exist.
	AddPeripheral(ctx context.Context, p *Peripheral) error

	// RemovePeripheral marks a peripheral inactive and records the removal time.
	RemovePeripheral(ctx context.Context, id string) error

	// ListQuantityTypes retrieves all registered quantity types.
	ListQuantityTypes(ctx context.Context) ([]QuantityType, error)

	// ListDefinitions retrieves all peripheral definitions with their
	// declared quantity types resolved.
	ListDefinitions(ctx context.Context) ([]PeripheralDefinition, error)

	// OpenExperiment returns the currently open experiment for a kit, or
	// ErrExperimentNotFound if none is open.
	OpenExperiment(ctx context.Context, kitID string) (*Experiment, error)

	// StartExperiment opens a new experiment on a kit.
	StartExperiment(ctx context.Context, e *Experiment) error

	// EndExperiment closes an open experiment.
	EndExperiment(ctx context.Context, id string, endedAt time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const kitColumns = `id, serial, name, description, latitude, longitude, secret_hash,
	privacy_public_dashboard, privacy_show_on_map, created_at, updated_at`

// GetByID retrieves a kit by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Kit, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+kitColumns+` FROM kits WHERE id = ?`, id)
	k, err := scanKit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKitNotFound
		}
		return nil, fmt.Errorf("querying kit by id: %w", err)
	}
	return k, nil
}

// GetBySerial retrieves a kit by its serial.
func (r *SQLiteRepository) GetBySerial(ctx context.Context, serial string) (*Kit, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+kitColumns+` FROM kits WHERE serial = ?`, serial)
	k, err := scanKit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKitNotFound
		}
		return nil, fmt.Errorf("querying kit by serial: %w", err)
	}
	return k, nil
}

// List retrieves all kits.
func (r *SQLiteRepository) List(ctx context.Context) ([]Kit, error) {
	return r.queryKits(ctx, `SELECT `+kitColumns+` FROM kits ORDER BY serial`)
}

// ListOnMap retrieves all kits with the show-on-map privacy flag set.
func (r *SQLiteRepository) ListOnMap(ctx context.Context) ([]Kit, error) {
	return r.queryKits(ctx,
		`SELECT `+kitColumns+` FROM kits WHERE privacy_show_on_map = 1 ORDER BY serial`)
}

// Create inserts a new kit.
func (r *SQLiteRepository) Create(ctx context.Context, k *Kit) error {
	now := time.Now().UTC()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kits (
			id, serial, name, description, latitude, longitude, secret_hash,
			privacy_public_dashboard, privacy_show_on_map, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID,
		k.Serial,
		k.Name,
		k.Description,
		nullableFloat(k.Latitude),
		nullableFloat(k.Longitude),
		k.SecretHash,
		boolToInt(k.PublicDashboard),
		boolToInt(k.ShowOnMap),
		k.CreatedAt.Format(time.RFC3339),
		k.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrKitExists
		}
		return fmt.Errorf("inserting kit: %w", err)
	}
	return nil
}

// Update modifies an existing kit.
func (r *SQLiteRepository) Update(ctx context.Context, k *Kit) error {
	k.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE kits SET
			name = ?, description = ?, latitude = ?, longitude = ?,
			secret_hash = ?, privacy_public_dashboard = ?, privacy_show_on_map = ?,
			updated_at = ?
		WHERE id = ?`,
		k.Name,
		k.Description,
		nullableFloat(k.Latitude),
		nullableFloat(k.Longitude),
		k.SecretHash,
		boolToInt(k.PublicDashboard),
		boolToInt(k.ShowOnMap),
		k.UpdatedAt.Format(time.RFC3339),
		k.ID,
	)
	if err != nil {
		return fmt.Errorf("updating kit: %w", err)
	}
	return checkAffected(result, ErrKitNotFound)
}

// Delete removes a kit by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM kits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting kit: %w", err)
	}
	return checkAffected(result, ErrKitNotFound)
}

// AddMember links a user to a kit.
func (r *SQLiteRepository) AddMember(ctx context.Context, kitID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kit_memberships (user_id, kit_id, linked_at)
		VALUES (?, ?, ?)`,
		userID, kitID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrMembershipExists
		}
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// RemoveMember unlinks a user from a kit.
func (r *SQLiteRepository) RemoveMember(ctx context.Context, kitID, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM kit_memberships WHERE kit_id = ? AND user_id = ?`, kitID, userID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return checkAffected(result, ErrMembershipNotFound)
}

// ListMemberIDs returns the user ids linked to a kit.
func (r *SQLiteRepository) ListMemberIDs(ctx context.Context, kitID string) ([]string, error) {
	return r.queryIDs(ctx,
		`SELECT user_id FROM kit_memberships WHERE kit_id = ? ORDER BY user_id`, kitID)
}

// ListKitIDsForUser returns the kit ids a user is a member of.
func (r *SQLiteRepository) ListKitIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return r.queryIDs(ctx,
		`SELECT kit_id FROM kit_memberships WHERE user_id = ? ORDER BY kit_id`, userID)
}

// ListPeripherals retrieves a kit's peripherals with definitions resolved.
func (r *SQLiteRepository) ListPeripherals(ctx context.Context, kitID string) ([]Peripheral, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.kit_id, p.definition_id, p.name, p.active, p.added_at, p.removed_at,
			d.name, d.brand, d.model, d.class_name, d.created_at
		FROM peripherals p
		JOIN peripheral_definitions d ON d.id = p.definition_id
		WHERE p.kit_id = ?
		ORDER BY p.name`, kitID)
	if err != nil {
		return nil, fmt.Errorf("querying peripherals: %w", err)
	}
	defer rows.Close()

	var peripherals []Peripheral
	for rows.Next() {
		var p Peripheral
		var def PeripheralDefinition
		var active int
		var addedAt, defCreatedAt string
		var removedAt sql.NullString

		if err := rows.Scan(
			&p.ID, &p.KitID, &p.DefinitionID, &p.Name, &active, &addedAt, &removedAt,
			&def.Name, &def.Brand, &def.Model, &def.ClassName, &defCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning peripheral: %w", err)
		}

		p.Active = active != 0
		if p.AddedAt, err = time.Parse(time.RFC3339, addedAt); err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		if removedAt.Valid {
			t, err := time.Parse(time.RFC3339, removedAt.String)
			if err == nil {
				p.RemovedAt = &t
			}
		}
		def.ID = p.DefinitionID
		if def.CreatedAt, err = time.Parse(time.RFC3339, defCreatedAt); err != nil {
			return nil, fmt.Errorf("parsing definition created_at: %w", err)
		}
		p.Definition = &def

		peripherals = append(peripherals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating peripherals: %w", err)
	}

	// Resolve declared quantity types per definition
	for i := range peripherals {
		def := peripherals[i].Definition
		types, err := r.declaredQuantityTypes(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		def.QuantityTypes = types
	}

	return peripherals, nil
}

// AddPeripheral attaches a peripheral to a kit.
func (r *SQLiteRepository) AddPeripheral(ctx context.Context, p *Peripheral) error {
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO peripherals (id, kit_id, definition_id, name, active, added_at, removed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.KitID, p.DefinitionID, p.Name,
		boolToInt(p.Active),
		p.AddedAt.Format(time.RFC3339),
		nullableTime(p.RemovedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPeripheralExists
		}
		if isForeignKeyError(err) {
			return ErrDefinitionNotFound
		}
		return fmt.Errorf("inserting peripheral: %w", err)
	}
	return nil
}

// RemovePeripheral marks a peripheral inactive and records the removal time.
// The row is kept so historical measurements retain their peripheral reference.
func (r *SQLiteRepository) RemovePeripheral(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE peripherals SET active = 0, removed_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("removing peripheral: %w", err)
	}
	return checkAffected(result, ErrPeripheralNotFound)
}

// ListQuantityTypes retrieves all registered quantity types.
func (r *SQLiteRepository) ListQuantityTypes(ctx context.Context) ([]QuantityType, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, physical_quantity, physical_unit, unit_symbol
		FROM quantity_types
		ORDER BY physical_quantity, physical_unit`)
	if err != nil {
		return nil, fmt.Errorf("querying quantity types: %w", err)
	}
	defer rows.Close()

	var types []QuantityType
	for rows.Next() {
		var qt QuantityType
		if err := rows.Scan(&qt.ID, &qt.PhysicalQuantity, &qt.PhysicalUnit, &qt.UnitSymbol); err != nil {
			return nil, fmt.Errorf("scanning quantity type: %w", err)
		}
		types = append(types, qt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quantity types: %w", err)
	}
	return types, nil
}

// ListDefinitions retrieves all peripheral definitions with declared quantity types.
func (r *SQLiteRepository) ListDefinitions(ctx context.Context) ([]PeripheralDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, brand, model, class_name, created_at
		FROM peripheral_definitions
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying definitions: %w", err)
	}
	defer rows.Close()

	var defs []PeripheralDefinition
	for rows.Next() {
		var def PeripheralDefinition
		var createdAt string
		if err := rows.Scan(&def.ID, &def.Name, &def.Brand, &def.Model, &def.ClassName, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning definition: %w", err)
		}
		if def.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing definition created_at: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating definitions: %w", err)
	}

	for i := range defs {
		types, err := r.declaredQuantityTypes(ctx, defs[i].ID)
		if err != nil {
			return nil, err
		}
		defs[i].QuantityTypes = types
	}
	return defs, nil
}

// OpenExperiment returns the currently open experiment for a kit.
func (r *SQLiteRepository) OpenExperiment(ctx context.Context, kitID string) (*Experiment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kit_id, started_at, ended_at
		FROM experiments
		WHERE kit_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`, kitID)

	var e Experiment
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&e.ID, &e.KitID, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExperimentNotFound
		}
		return nil, fmt.Errorf("querying open experiment: %w", err)
	}

	var err error
	if e.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339, endedAt.String)
		if err == nil {
			e.EndedAt = &t
		}
	}
	return &e, nil
}

// StartExperiment opens a new experiment on a kit.
func (r *SQLiteRepository) StartExperiment(ctx context.Context, e *Experiment) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO experiments (id, kit_id, started_at, ended_at)
		VALUES (?, ?, ?, ?)`,
		e.ID, e.KitID, e.StartedAt.Format(time.RFC3339), nullableTime(e.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting experiment: %w", err)
	}
	return nil
}

// EndExperiment closes an open experiment.
func (r *SQLiteRepository) EndExperiment(ctx context.Context, id string, endedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE experiments SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		endedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("ending experiment: %w", err)
	}
	return checkAffected(result, ErrExperimentNotFound)
}

// declaredQuantityTypes returns the quantity types a definition declares.
func (r *SQLiteRepository) declaredQuantityTypes(ctx context.Context, definitionID string) ([]QuantityType, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT q.id, q.physical_quantity, q.physical_unit, q.unit_symbol
		FROM peripheral_definition_quantity_types dq
		JOIN quantity_types q ON q.id = dq.quantity_type_id
		WHERE dq.definition_id = ?
		ORDER BY q.physical_quantity, q.physical_unit`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("querying declared quantity types: %w", err)
	}
	defer rows.Close()

	var types []QuantityType
	for rows.Next() {
		var qt QuantityType
		if err := rows.Scan(&qt.ID, &qt.PhysicalQuantity, &qt.PhysicalUnit, &qt.UnitSymbol); err != nil {
			return nil, fmt.Errorf("scanning declared quantity type: %w", err)
		}
		types = append(types, qt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating declared quantity types: %w", err)
	}
	return types, nil
}

// queryKits executes a query and returns a slice of kits.
func (r *SQLiteRepository) queryKits(ctx context.Context, query string, args ...any) ([]Kit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying kits: %w", err)
	}
	defer rows.Close()

	var kits []Kit
	for rows.Next() {
		k, err := scanKit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning kit: %w", err)
		}
		kits = append(kits, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating kits: %w", err)
	}
	return kits, nil
}

// queryIDs executes a single-column id query.
func (r *SQLiteRepository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ids: %w", err)
	}
	return ids, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanKit scans a row or rows result into a Kit.
func scanKit(scanner rowScanner) (*Kit, error) {
	var k Kit
	var latitude, longitude sql.NullFloat64
	var publicDashboard, showOnMap int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&k.ID,
		&k.Serial,
		&k.Name,
		&k.Description,
		&latitude,
		&longitude,
		&k.SecretHash,
		&publicDashboard,
		&showOnMap,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if latitude.Valid {
		k.Latitude = &latitude.Float64
	}
	if longitude.Valid {
		k.Longitude = &longitude.Float64
	}
	k.PublicDashboard = publicDashboard != 0
	k.ShowOnMap = showOnMap != 0

	var parseErr error
	k.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	k.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &k, nil
}

// checkAffected converts a zero-rows-affected result into notFound.
func checkAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullableFloat returns a sql.NullFloat64 for optional float pointers.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// isForeignKeyError checks if an error is a SQLite foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
