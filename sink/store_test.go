package sink

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/imgscout/dbopen"
	"github.com/hazyhaar/imgscout/event"
)

func TestStore_RecordsEpochs(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := NewStore(db, "https://example.com/", nil)
	ctx := context.Background()

	emit := func(ev event.Event) {
		t.Helper()
		if err := s.Emit(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	emit(event.Discovered{Epoch: 1, Image: img("https://x/orphan.png", "orphan.png", "image/png", 1)})
	emit(event.Clear{Epoch: 1})
	first := s.CurrentScan()
	emit(event.Discovered{Epoch: 1, Image: img("https://x/a.png", "a.png", "image/png", 1)})
	emit(event.Discovered{Epoch: 1, Image: img("https://x/a.png", "a.png", "image/png", 2)})
	emit(event.ScanComplete{Epoch: 1, Discovered: 1, Elements: 9})

	emit(event.Clear{Epoch: 2})
	second := s.CurrentScan()
	emit(event.Discovered{Epoch: 1, Image: img("https://x/late.png", "late.png", "image/png", 3)})
	emit(event.Discovered{Epoch: 2, Image: img("https://x/a.png", "a.png", "image/png", 1)})
	emit(event.Discovered{Epoch: 2, Image: img("https://x/b.png", "b.png", "image/png", 2)})

	if first == "" || first == second {
		t.Fatalf("scan ids %q %q", first, second)
	}

	scans, err := s.Scans(ctx, "https://example.com/", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 2 {
		t.Fatalf("scans = %d, want 2", len(scans))
	}
	if scans[0].ID != second || !scans[0].CompletedAt.IsZero() {
		t.Errorf("newest scan = %+v", scans[0])
	}
	if scans[1].Elements != 9 || scans[1].CompletedAt.IsZero() {
		t.Errorf("first scan = %+v", scans[1])
	}

	imgs, err := s.Images(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 1 || imgs[0].Source != "https://x/a.png" {
		t.Errorf("first scan images = %+v", imgs)
	}
	imgs, _ = s.Images(ctx, second)
	if len(imgs) != 2 {
		t.Errorf("second scan images = %d, want 2", len(imgs))
	}

	seen, err := s.SeenIn(ctx, "https://x/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Errorf("SeenIn = %v", seen)
	}
}

func TestStore_Prune(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := NewStore(db, "https://example.com/", nil)
	ctx := context.Background()

	s.Emit(ctx, event.Clear{Epoch: 1})
	s.Emit(ctx, event.Discovered{Epoch: 1, Image: img("https://x/a.png", "a.png", "image/png", 1)})

	n, err := s.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	seen, _ := s.SeenIn(ctx, "https://x/a.png")
	if len(seen) != 0 {
		t.Errorf("images not cascaded: %v", seen)
	}
}
