package kit

import (
	"context"
	"errors"
	"testing"
)

// countingRepo wraps a Repository and counts serial lookups, so tests can
// tell a cache hit from a rebuild.
type countingRepo struct {
	Repository
	serialLookups int
}

func (c *countingRepo) GetBySerial(ctx context.Context, serial string) (*Kit, error) {
	c.serialLookups++
	return c.Repository.GetBySerial(ctx, serial)
}

func testRegistry(t *testing.T) (*Registry, *countingRepo, *SQLiteRepository) {
	t.Helper()
	sqlRepo := testRepo(t)
	counting := &countingRepo{Repository: sqlRepo}
	return NewRegistry(counting), counting, sqlRepo
}

func TestRegistrySnapshot_CachesBySerial(t *testing.T) {
	reg, counting, repo := testRegistry(t)
	seedKit(t, repo, "balcony-01")

	first, err := reg.Snapshot(context.Background(), "balcony-01")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if first.Kit.Serial != "balcony-01" {
		t.Fatalf("Snapshot() serial = %q, want balcony-01", first.Kit.Serial)
	}
	if reg.CachedCount() != 1 {
		t.Errorf("CachedCount() = %d, want 1", reg.CachedCount())
	}

	lookupsAfterFirst := counting.serialLookups
	second, err := reg.Snapshot(context.Background(), "balcony-01")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if counting.serialLookups != lookupsAfterFirst {
		t.Errorf("second Snapshot() hit the repository: %d lookups, want %d",
			counting.serialLookups, lookupsAfterFirst)
	}
	if second != first {
		t.Error("second Snapshot() should return the cached snapshot")
	}
}

func TestRegistrySnapshot_UnknownSerial(t *testing.T) {
	reg, _, _ := testRegistry(t)

	if _, err := reg.Snapshot(context.Background(), "missing"); !errors.Is(err, ErrKitNotFound) {
		t.Fatalf("Snapshot() of unknown serial error = %v, want ErrKitNotFound", err)
	}
	if reg.CachedCount() != 0 {
		t.Errorf("CachedCount() = %d after failed lookup, want 0", reg.CachedCount())
	}
}

func TestRegistryUpdate_InvalidatesSnapshot(t *testing.T) {
	reg, _, repo := testRegistry(t)
	k := seedKit(t, repo, "balcony-01")

	if _, err := reg.Snapshot(context.Background(), k.Serial); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	k.Name = "Renamed"
	if err := reg.Update(context.Background(), k); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if reg.CachedCount() != 0 {
		t.Fatalf("CachedCount() = %d after Update, want 0", reg.CachedCount())
	}

	snap, err := reg.Snapshot(context.Background(), k.Serial)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Kit.Name != "Renamed" {
		t.Errorf("rebuilt snapshot name = %q, want Renamed", snap.Kit.Name)
	}
}

func TestRegistryAddMember_InvalidatesSnapshot(t *testing.T) {
	reg, _, repo := testRegistry(t)
	k := seedKit(t, repo, "balcony-01")
	seedUserRow(t, repo, "user-1")

	before, err := reg.Snapshot(context.Background(), k.Serial)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if before.IsMember("user-1") {
		t.Fatal("user-1 should not be a member yet")
	}

	if err := reg.AddMember(context.Background(), k.ID, "user-1"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if reg.CachedCount() != 0 {
		t.Fatalf("CachedCount() = %d after AddMember, want 0", reg.CachedCount())
	}

	after, err := reg.Snapshot(context.Background(), k.Serial)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !after.IsMember("user-1") {
		t.Error("rebuilt snapshot should include the new member")
	}

	if err := reg.RemoveMember(context.Background(), k.ID, "user-1"); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	final, err := reg.Snapshot(context.Background(), k.Serial)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if final.IsMember("user-1") {
		t.Error("rebuilt snapshot should drop the removed member")
	}
}

func TestRegistryAddPeripheral_InvalidatesSnapshot(t *testing.T) {
	reg, _, repo := testRegistry(t)
	k := seedKit(t, repo, "balcony-01")
	defID := seedDefinition(t, repo, "Soil Probe")

	before, err := reg.Snapshot(context.Background(), k.Serial)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if before.PeripheralByName("soil-probe-1") != nil {
		t.Fatal("peripheral should not exist yet")
	}

	p := &Peripheral{KitID: k.ID, DefinitionID: defID, Name: "soil-probe-1", Active: true}
	if err := reg.AddPeripheral(context.Background(), p); err != nil {
		t.Fatalf("AddPeripheral() error = %v", err)
	}
	if p.ID == "" {
		t.Error("AddPeripheral() should assign an id")
	}
	if reg.CachedCount() != 0 {
		t.Fatalf("CachedCount() = %d after AddPeripheral, want 0", reg.CachedCount())
	}

	after, err := reg.Snapshot(context.Background(), k.Serial)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	got := after.PeripheralByName("soil-probe-1")
	if got == nil {
		t.Fatal("rebuilt snapshot should include the new peripheral")
	}
	if got.Definition == nil || got.Definition.Name != "Soil Probe" {
		t.Errorf("snapshot peripheral definition = %+v, want Soil Probe", got.Definition)
	}
}

func TestRegistryDelete_InvalidatesSnapshot(t *testing.T) {
	reg, _, repo := testRegistry(t)
	k := seedKit(t, repo, "balcony-01")

	if _, err := reg.Snapshot(context.Background(), k.Serial); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if err := reg.Delete(context.Background(), k.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if reg.CachedCount() != 0 {
		t.Fatalf("CachedCount() = %d after Delete, want 0", reg.CachedCount())
	}
	if _, err := reg.Snapshot(context.Background(), k.Serial); !errors.Is(err, ErrKitNotFound) {
		t.Errorf("Snapshot() after Delete error = %v, want ErrKitNotFound", err)
	}
}

func TestRegistryCreate_Validates(t *testing.T) {
	reg, _, _ := testRegistry(t)

	bad := &Kit{Serial: "bad serial", Name: "Balcony", SecretHash: "h"}
	if err := reg.Create(context.Background(), bad); !errors.Is(err, ErrInvalidSerial) {
		t.Fatalf("Create() with bad serial error = %v, want ErrInvalidSerial", err)
	}

	good := &Kit{Serial: "balcony-01", Name: "Balcony", SecretHash: "h"}
	if err := reg.Create(context.Background(), good); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if good.ID == "" {
		t.Error("Create() should assign an id")
	}
}

func TestRegistryExperimentLifecycle(t *testing.T) {
	reg, _, repo := testRegistry(t)
	k := seedKit(t, repo, "balcony-01")

	e := &Experiment{KitID: k.ID}
	if err := reg.StartExperiment(context.Background(), e); err != nil {
		t.Fatalf("StartExperiment() error = %v", err)
	}
	if e.ID == "" {
		t.Error("StartExperiment() should assign an id")
	}

	open, err := reg.OpenExperiment(context.Background(), k.ID)
	if err != nil {
		t.Fatalf("OpenExperiment() error = %v", err)
	}
	if open.ID != e.ID {
		t.Errorf("OpenExperiment() id = %q, want %q", open.ID, e.ID)
	}

	if err := reg.EndExperiment(context.Background(), e.ID); err != nil {
		t.Fatalf("EndExperiment() error = %v", err)
	}
	if _, err := reg.OpenExperiment(context.Background(), k.ID); !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("OpenExperiment() after end error = %v, want ErrExperimentNotFound", err)
	}
}
