package missions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinPackLoadsExpectedMissions(t *testing.T) {
	loader := NewLoader()
	packs, err := loader.Builtin(context.Background())
	if err != nil {
		t.Fatalf("load builtin packs: %v", err)
	}
	pack, err := loader.FindPack(packs, BuiltinPackID)
	if err != nil {
		t.Fatalf("find pack: %v", err)
	}

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	got := pack.Order()
	if len(got) != len(want) {
		t.Fatalf("expected %d missions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mission order mismatch at %d: got %q want %q", i, got[i], want[i])
		}
	}
	if pack.MaxScore() != 14 {
		t.Fatalf("expected max score 14, got %d", pack.MaxScore())
	}
	if pack.Points()["m1"] != 2 {
		t.Fatalf("expected m1 worth 2 points, got %d", pack.Points()["m1"])
	}
	if pack.Duration().Minutes() != 20 || pack.WarnBefore().Minutes() != 5 {
		t.Fatalf("unexpected session timing: %v / %v", pack.Duration(), pack.WarnBefore())
	}
	csv := string(pack.Files()["mystic_coffee_sales.csv"])
	if !strings.HasPrefix(csv, "date,drink,qty,price,revenue,shop") {
		t.Fatalf("dataset not loaded: %q", csv)
	}
	m5, ok := pack.Mission("m5")
	if !ok || m5.Checks[0].Count != 5 {
		t.Fatalf("expected m5 tick check with count 5, got %#v", m5.Checks)
	}
	for _, m := range pack.Missions {
		if m.Demo == nil || m.Demo.Code == "" {
			t.Fatalf("mission %s has no worked solution", m.MissionID)
		}
	}
	if len(m5.Demo.TickLabels) != 5 || m5.Demo.TickLabels[0] != "Latte" {
		t.Fatalf("unexpected m5 demo ticks %q", m5.Demo.TickLabels)
	}
}

func TestLoadDirSkipsFoldersWithoutPackYAML(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	packDir := filepath.Join(root, "tiny")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `kind: pack
schema_version: 1
pack_id: tiny-pack
name: Tiny
version: 0.0.1
missions:
  - mission_id: a1
    title: First
    points: 1
    checks:
      - id: c1
        type: expr_true
        expr: "True"
`
	if err := os.WriteFile(filepath.Join(packDir, "pack.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	packs, err := NewLoader().LoadDir(context.Background(), root)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(packs) != 1 || packs[0].PackID != "tiny-pack" {
		t.Fatalf("unexpected packs: %#v", packs)
	}
	if packs[0].Level != 1 || packs[0].Session.DurationSeconds != 1200 || packs[0].Session.WarnSeconds != 300 {
		t.Fatalf("defaults not applied: %#v", packs[0].Session)
	}
}

func TestLoadDirReportsMissingDataset(t *testing.T) {
	root := t.TempDir()
	packDir := filepath.Join(root, "broken")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `kind: pack
schema_version: 1
pack_id: broken-pack
name: Broken
version: 0.0.1
datasets:
  - path: missing.csv
missions:
  - mission_id: a1
    title: First
    points: 1
    checks:
      - id: c1
        type: expr_true
        expr: "True"
`
	if err := os.WriteFile(filepath.Join(packDir, "pack.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().LoadDir(context.Background(), root); err == nil {
		t.Fatalf("expected missing dataset error")
	}
}
