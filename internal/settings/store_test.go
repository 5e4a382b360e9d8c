package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/vent-logic-core/internal/discovery"
	"github.com/nerrad567/vent-logic-core/internal/infrastructure/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("initialising schema: %v", err)
	}
	return NewStore(db)
}

func discovered() discovery.DiscoveredUnit {
	return discovery.DiscoveredUnit{
		Name:             "Attic_Vent",
		Serial:           "800131-000001",
		SerialNormalized: "800131000001",
		IP:               "192.0.2.10",
		Port:             47808,
		MAC:              "AA:BB:CC:DD:EE:01",
		Firmware:         "1.22.4",
	}
}

func TestSaveDiscoveredInsertAndRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unitID, err := s.SaveDiscovered(ctx, discovered())
	if err != nil {
		t.Fatalf("SaveDiscovered() error = %v", err)
	}
	if unitID != "vent-800131000001" {
		t.Errorf("unit id = %q", unitID)
	}

	// Rediscovery with a new endpoint keeps the unit id.
	moved := discovered()
	moved.IP = "192.0.2.44"
	again, err := s.SaveDiscovered(ctx, moved)
	if err != nil {
		t.Fatalf("second SaveDiscovered() error = %v", err)
	}
	if again != unitID {
		t.Errorf("rediscovery changed unit id: %q != %q", again, unitID)
	}

	u, err := s.Unit(ctx, unitID)
	if err != nil {
		t.Fatalf("Unit() error = %v", err)
	}
	if u.IP != "192.0.2.44" || u.Serial != "800131000001" || u.Name != "Attic_Vent" {
		t.Errorf("Unit() = %+v", u)
	}

	units, err := s.Units(ctx)
	if err != nil {
		t.Fatalf("Units() error = %v", err)
	}
	if len(units) != 1 {
		t.Errorf("Units() returned %d records, want 1", len(units))
	}
}

func TestSaveEndpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unitID, err := s.SaveDiscovered(ctx, discovered())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveEndpoint(ctx, unitID, "192.0.2.99", 47810); err != nil {
		t.Fatalf("SaveEndpoint() error = %v", err)
	}
	u, err := s.Unit(ctx, unitID)
	if err != nil {
		t.Fatal(err)
	}
	if u.IP != "192.0.2.99" || u.Port != 47810 {
		t.Errorf("endpoint = %s:%d", u.IP, u.Port)
	}

	if err := s.SaveEndpoint(ctx, "ghost", "192.0.2.1", 1); !errors.Is(err, ErrUnitNotFound) {
		t.Errorf("SaveEndpoint(ghost) error = %v, want ErrUnitNotFound", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unitID, err := s.SaveDiscovered(ctx, discovered())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetSetting(ctx, unitID, "target_temperature", 21.5); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	v, ok := s.Setting(ctx, unitID, "target_temperature")
	if !ok || v != 21.5 {
		t.Errorf("Setting() = %v, %v", v, ok)
	}

	// Upsert overwrites.
	if err := s.SetSetting(ctx, unitID, "target_temperature", 19); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Setting(ctx, unitID, "target_temperature"); v != 19 {
		t.Errorf("Setting() after upsert = %v, want 19", v)
	}

	batch := map[string]float64{
		"fan_home_supply":  60,
		"fan_home_extract": 65,
	}
	if err := s.SetSettings(ctx, unitID, batch); err != nil {
		t.Fatalf("SetSettings() error = %v", err)
	}
	all, err := s.Settings(ctx, unitID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all["fan_home_supply"] != 60 {
		t.Errorf("Settings() = %v", all)
	}

	if _, ok := s.Setting(ctx, unitID, "missing"); ok {
		t.Error("missing setting reported as present")
	}
}

func TestDeleteUnitCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unitID, err := s.SaveDiscovered(ctx, discovered())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, unitID, "target_temperature", 21); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteUnit(ctx, unitID); err != nil {
		t.Fatalf("DeleteUnit() error = %v", err)
	}
	if _, err := s.Unit(ctx, unitID); !errors.Is(err, ErrUnitNotFound) {
		t.Errorf("Unit() after delete = %v, want ErrUnitNotFound", err)
	}
	all, err := s.Settings(ctx, unitID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("settings survived delete: %v", all)
	}
}
