package locations

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"ar_0501_port_maje_ext.lvl":                "Port Maje (Exterior)",
		"ar_0702_neketaka_palace_int.lvl":          "Neketaka Palace (Interior)",
		"neketaka_market.lvl":                      "Market",
		"levels/ar_0101_fort_deadlight.LVL":        "Fort Deadlight",
		`"ar_0301_ukaizo_ext.lvl",`:                "Ukaizo (Exterior)",
		"ar_0201_dunnage_extra.lvl - NEW LOCATION": "Dunnage Extra",
		"Hasongo": "Hasongo",
	}
	for in, want := range tests {
		if got := CleanName(in); got != want {
			t.Errorf("CleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordAndLatest(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local)

	first, err := Record(dir, []string{"Port Maje (Exterior)"}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(first, t0, t0); err != nil {
		t.Fatal(err)
	}

	second, err := Record(dir, []string{"Neketaka", "Fort Deadlight"}, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Errorf("older per-save file still present: %v", err)
	}

	latest, err := Latest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if latest != second {
		t.Errorf("Latest = %q, want %q", latest, second)
	}

	names, err := ReadFile(latest)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Neketaka", "Fort Deadlight"}; !reflect.DeepEqual(names, want) {
		t.Errorf("ReadFile = %v, want %v", names, want)
	}

	merged, err := ReadFile(filepath.Join(dir, mergedName))
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Fort Deadlight", "Neketaka", "Port Maje (Exterior)"}; !reflect.DeepEqual(merged, want) {
		t.Errorf("merged = %v, want %v", merged, want)
	}
}

func TestLatestEmptyDir(t *testing.T) {
	got, err := Latest(filepath.Join(t.TempDir(), "missing"))
	if err != nil || got != "" {
		t.Errorf("Latest = %q, %v", got, err)
	}
}
