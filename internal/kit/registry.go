package kit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Snapshot is a consistent read-only view of a kit for the measurement path:
// the kit record, its peripherals (definitions and declared quantity types
// resolved), and the set of member user ids.
//
// Snapshots are immutable once built; callers must not modify them.
type Snapshot struct {
	Kit         *Kit
	Peripherals []Peripheral
	MemberIDs   map[string]struct{}
}

// PeripheralByName returns the named peripheral, or nil if the kit has none.
func (s *Snapshot) PeripheralByName(name string) *Peripheral {
	for i := range s.Peripherals {
		if s.Peripherals[i].Name == name {
			return &s.Peripherals[i]
		}
	}
	return nil
}

// IsMember reports whether the user is linked to the kit.
func (s *Snapshot) IsMember(userID string) bool {
	_, ok := s.MemberIDs[userID]
	return ok
}

// Registry provides kit management with caching and thread safety.
// It wraps a Repository and adds an in-memory snapshot cache keyed by serial,
// so the websocket measurement path does not hit SQLite per message.
//
// The cache is invalidated by the mutating operations and repopulated lazily.
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Snapshot // Cached snapshots by kit serial
	cacheMu sync.RWMutex         // Protects cache
	logger  Logger
}

// NewRegistry creates a new kit registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Snapshot),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Snapshot returns the cached snapshot for a kit serial, building it from the
// repository on a cache miss. Returns ErrKitNotFound for unknown serials.
func (r *Registry) Snapshot(ctx context.Context, serial string) (*Snapshot, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[serial]
	r.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	snap, err := r.buildSnapshot(ctx, serial)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[serial] = snap
	r.cacheMu.Unlock()

	return snap, nil
}

// GetBySerial retrieves a kit by serial, via the snapshot cache.
// The returned kit is a deep copy; callers can safely modify it.
func (r *Registry) GetBySerial(ctx context.Context, serial string) (*Kit, error) {
	snap, err := r.Snapshot(ctx, serial)
	if err != nil {
		return nil, err
	}
	return snap.Kit.DeepCopy(), nil
}

// GetByID retrieves a kit by id, bypassing the serial-keyed cache.
func (r *Registry) GetByID(ctx context.Context, id string) (*Kit, error) {
	return r.repo.GetByID(ctx, id)
}

// List retrieves all kits from the repository.
func (r *Registry) List(ctx context.Context) ([]Kit, error) {
	return r.repo.List(ctx)
}

// ListOnMap retrieves all kits shown on the public map.
func (r *Registry) ListOnMap(ctx context.Context) ([]Kit, error) {
	return r.repo.ListOnMap(ctx)
}

// Create validates and persists a new kit.
func (r *Registry) Create(ctx context.Context, k *Kit) error {
	if k.ID == "" {
		k.ID = GenerateID()
	}
	if err := Validate(k); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, k); err != nil {
		return err
	}

	r.logger.Info("kit created", "id", k.ID, "serial", k.Serial)
	return nil
}

// Update persists kit changes and invalidates its snapshot.
func (r *Registry) Update(ctx context.Context, k *Kit) error {
	if err := Validate(k); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, k); err != nil {
		return err
	}

	r.invalidate(k.Serial)
	r.logger.Info("kit updated", "id", k.ID, "serial", k.Serial)
	return nil
}

// Delete removes a kit and invalidates its snapshot.
func (r *Registry) Delete(ctx context.Context, id string) error {
	k, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.invalidate(k.Serial)
	r.logger.Info("kit deleted", "id", id, "serial", k.Serial)
	return nil
}

// AddMember links a user to a kit and invalidates the kit's snapshot.
func (r *Registry) AddMember(ctx context.Context, kitID, userID string) error {
	k, err := r.repo.GetByID(ctx, kitID)
	if err != nil {
		return err
	}
	if err := r.repo.AddMember(ctx, kitID, userID); err != nil {
		return err
	}
	r.invalidate(k.Serial)
	return nil
}

// RemoveMember unlinks a user from a kit and invalidates the kit's snapshot.
func (r *Registry) RemoveMember(ctx context.Context, kitID, userID string) error {
	k, err := r.repo.GetByID(ctx, kitID)
	if err != nil {
		return err
	}
	if err := r.repo.RemoveMember(ctx, kitID, userID); err != nil {
		return err
	}
	r.invalidate(k.Serial)
	return nil
}

// MemberKitIDs returns the kit ids a user is a member of.
func (r *Registry) MemberKitIDs(ctx context.Context, userID string) ([]string, error) {
	return r.repo.ListKitIDsForUser(ctx, userID)
}

// ListPeripherals retrieves a kit's peripherals via the repository.
func (r *Registry) ListPeripherals(ctx context.Context, kitID string) ([]Peripheral, error) {
	return r.repo.ListPeripherals(ctx, kitID)
}

// AddPeripheral attaches a peripheral to a kit and invalidates the snapshot.
func (r *Registry) AddPeripheral(ctx context.Context, p *Peripheral) error {
	if p.ID == "" {
		p.ID = GenerateID()
	}
	k, err := r.repo.GetByID(ctx, p.KitID)
	if err != nil {
		return err
	}
	if err := r.repo.AddPeripheral(ctx, p); err != nil {
		return err
	}
	r.invalidate(k.Serial)
	r.logger.Info("peripheral added", "kit", k.Serial, "name", p.Name)
	return nil
}

// RemovePeripheral deactivates a peripheral and invalidates the kit's snapshot.
func (r *Registry) RemovePeripheral(ctx context.Context, kitID, peripheralID string) error {
	k, err := r.repo.GetByID(ctx, kitID)
	if err != nil {
		return err
	}
	if err := r.repo.RemovePeripheral(ctx, peripheralID); err != nil {
		return err
	}
	r.invalidate(k.Serial)
	return nil
}

// OpenExperiment returns the currently open experiment for a kit.
// Experiments change rarely but must be current, so this bypasses the cache.
func (r *Registry) OpenExperiment(ctx context.Context, kitID string) (*Experiment, error) {
	return r.repo.OpenExperiment(ctx, kitID)
}

// StartExperiment opens a new experiment on a kit.
func (r *Registry) StartExperiment(ctx context.Context, e *Experiment) error {
	if e.ID == "" {
		e.ID = GenerateID()
	}
	return r.repo.StartExperiment(ctx, e)
}

// EndExperiment closes an open experiment.
func (r *Registry) EndExperiment(ctx context.Context, id string) error {
	return r.repo.EndExperiment(ctx, id, time.Now().UTC())
}

// ListQuantityTypes retrieves all registered quantity types.
func (r *Registry) ListQuantityTypes(ctx context.Context) ([]QuantityType, error) {
	return r.repo.ListQuantityTypes(ctx)
}

// ListDefinitions retrieves all peripheral definitions.
func (r *Registry) ListDefinitions(ctx context.Context) ([]PeripheralDefinition, error) {
	return r.repo.ListDefinitions(ctx)
}

// CachedCount returns the number of cached kit snapshots.
func (r *Registry) CachedCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// invalidate drops a kit's cached snapshot. The next Snapshot call rebuilds it.
func (r *Registry) invalidate(serial string) {
	r.cacheMu.Lock()
	delete(r.cache, serial)
	r.cacheMu.Unlock()
}

// buildSnapshot assembles a snapshot from the repository.
func (r *Registry) buildSnapshot(ctx context.Context, serial string) (*Snapshot, error) {
	k, err := r.repo.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	peripherals, err := r.repo.ListPeripherals(ctx, k.ID)
	if err != nil {
		return nil, fmt.Errorf("loading peripherals for %s: %w", serial, err)
	}

	memberIDs, err := r.repo.ListMemberIDs(ctx, k.ID)
	if err != nil {
		return nil, fmt.Errorf("loading members for %s: %w", serial, err)
	}

	members := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}

	r.logger.Debug("kit snapshot built", "serial", serial, "peripherals", len(peripherals))

	return &Snapshot{
		Kit:         k,
		Peripherals: peripherals,
		MemberIDs:   members,
	}, nil
}
