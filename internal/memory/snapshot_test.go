package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	src.Put(ctx, "swarm", "alpha", []byte("one"), 0)
	src.Put(ctx, "swarm", "bravo", []byte("two"), 0)
	src.Put(ctx, "other", "zulu", []byte("zed"), 0)
	src.Delete(ctx, "swarm", "bravo")

	var buf bytes.Buffer
	if err := src.Export(&buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := newTestStore(t)
	applied, err := dst.Import(&buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if applied != 3 {
		t.Errorf("Import applied = %d, want 3", applied)
	}

	got, ver, err := dst.Get(ctx, "swarm", "alpha")
	if err != nil {
		t.Fatalf("Get after import failed: %v", err)
	}
	if string(got) != "one" || ver != 1 {
		t.Errorf("imported alpha = %q v%d, want %q v1", got, ver, "one")
	}

	// The tombstone travels with its version.
	if _, _, err := dst.Get(ctx, "swarm", "bravo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("imported tombstone Get = %v, want ErrNotFound", err)
	}
	if v, _ := dst.Put(ctx, "swarm", "bravo", []byte("back"), 0); v != 3 {
		t.Errorf("post-import version = %d, want 3", v)
	}
}

func TestImportKeepsHigherVersion(t *testing.T) {
	ctx := context.Background()

	src := newTestStore(t)
	src.Put(ctx, "swarm", "k", []byte("stale"), 0)

	var buf bytes.Buffer
	if err := src.Export(&buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := newTestStore(t)
	for i := 0; i < 5; i++ {
		dst.Put(ctx, "swarm", "k", []byte("fresh"), 0)
	}

	applied, err := dst.Import(&buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("Import applied = %d, want 0", applied)
	}

	got, ver, err := dst.Get(ctx, "swarm", "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "fresh" || ver != 5 {
		t.Errorf("after import = %q v%d, want %q v5", got, ver, "fresh")
	}
}

func TestExportSealed(t *testing.T) {
	ctx := context.Background()
	sealer, err := NewSealer("snapshot-key")
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	src, err := NewStore(Options{Sealer: sealer})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer src.Close()

	plain := []byte("classified finding")
	src.Put(ctx, "swarm", "secret", plain, 0)

	var buf bytes.Buffer
	if err := src.Export(&buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Same passphrase opens the snapshot.
	same, err := NewStore(Options{Sealer: sealer})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer same.Close()

	snapshot := append([]byte(nil), buf.Bytes()...)
	if _, err := same.Import(bytes.NewReader(snapshot)); err != nil {
		t.Fatalf("Import with matching sealer failed: %v", err)
	}
	got, _, err := same.Get(ctx, "swarm", "secret")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("imported value = %q, want %q", got, plain)
	}

	// A different passphrase cannot.
	other, _ := NewSealer("wrong-key")
	stranger, err := NewStore(Options{Sealer: other})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer stranger.Close()

	if _, err := stranger.Import(bytes.NewReader(snapshot)); err == nil {
		t.Error("Import with mismatched sealer should fail")
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	dst := newTestStore(t)
	if _, err := dst.Import(bytes.NewReader([]byte("not a zstd stream"))); err == nil {
		t.Error("Import of garbage should fail")
	}
}
