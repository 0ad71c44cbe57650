package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherAccept(t *testing.T) {
	w := &Watcher{Cooldown: 5 * time.Second}
	now := time.Date(2025, 4, 5, 18, 0, 0, 0, time.UTC)

	if w.accept("/saves/notes.txt", now) {
		t.Error("accepted a non-save file")
	}
	if !w.accept("/saves/quick.savegame", now) {
		t.Fatal("rejected first event")
	}
	if w.accept("/saves/quick.savegame", now.Add(2*time.Second)) {
		t.Error("accepted event inside cooldown")
	}
	if !w.accept("/saves/other.SAVEGAME", now.Add(2*time.Second)) {
		t.Error("cooldown must be per file")
	}
	if !w.accept("/saves/quick.savegame", now.Add(6*time.Second)) {
		t.Error("rejected event after cooldown")
	}
}

func TestWatcherEnqueuesNewSaves(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "slot1")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 4)
	w := &Watcher{
		Dir:      dir,
		Cooldown: time.Minute,
		Settle:   10 * time.Millisecond,
		Enqueue: func(path string) error {
			got <- path
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)

	save := filepath.Join(sub, "auto.savegame")
	if err := os.WriteFile(save, []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "ignore.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if p != save {
			t.Errorf("enqueued %s, want %s", p, save)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("save was not enqueued")
	}

	select {
	case p := <-got:
		t.Errorf("unexpected second enqueue %s", p)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
