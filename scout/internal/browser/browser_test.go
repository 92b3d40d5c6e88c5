package browser

import (
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    StealthLevel
		fixed   bool
		wantErr bool
	}{
		{"0", LevelHTTP, true, false},
		{"1", LevelHeadless, true, false},
		{"2", LevelHeadful, true, false},
		{"auto", LevelHeadless, false, false},
		{"", LevelHeadless, false, false},
		{"3", 0, false, true},
	}
	for _, tt := range tests {
		got, fixed, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want || fixed != tt.fixed {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, fixed, tt.want, tt.fixed)
		}
	}
}

func TestStealthLevel_String(t *testing.T) {
	if LevelHeadful.String() != "headful" || StealthLevel(9).String() != "level(9)" {
		t.Error("unexpected names")
	}
}

func TestBlockSet_KeepsImages(t *testing.T) {
	set := blockSet([]string{"Fonts", "media", "images", "stylesheets", " beacons "})
	for _, want := range []string{"font", "media", "ping"} {
		if !set[want] {
			t.Errorf("%s not blocked", want)
		}
	}
	for _, never := range []string{"image", "images", "stylesheet", "stylesheets"} {
		if set[never] {
			t.Errorf("%s blocked", never)
		}
	}
	if len(blockSet(nil)) != 0 {
		t.Error("empty config blocks something")
	}
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 || m.cfg.RecycleInterval != 4*time.Hour {
		t.Errorf("defaults: %+v", m.cfg)
	}
	if m.Running() {
		t.Error("running before Ensure")
	}
	m.Close()
	if _, err := m.Ensure(t.Context()); err == nil {
		t.Error("Ensure after Close should fail")
	}
	if err := m.Recycle(); err == nil {
		t.Error("Recycle after Close should fail")
	}
}
