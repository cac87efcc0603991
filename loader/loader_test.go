package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/caffeineduck/wasmfaas/internal/wasmtest"
)

func TestLoad(t *testing.T) {
	bin := wasmtest.Empty()
	fsys := fstest.MapFS{
		"empty.wasm":   {Data: bin},
		"garbage.wasm": {Data: []byte("#!/bin/sh\necho hi\n")},
		"short.wasm":   {Data: []byte{0x00, 0x61}},
		"dir.wasm":     {Mode: os.ModeDir},
	}
	l := NewFS(fsys)

	tests := []struct {
		id      string
		wantErr error
	}{
		{"empty", nil},
		{"missing", ErrNotFound},
		{"garbage", ErrInvalidBinary},
		{"short", ErrInvalidBinary},
		{"dir", ErrNotFound},
		{"", ErrInvalidID},
		{"../etc/passwd", ErrInvalidID},
		{"a/b", ErrInvalidID},
		{".hidden", ErrInvalidID},
		{"with space", ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			g, err := l.Load(context.Background(), tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if g.ID != tt.id {
				t.Errorf("expected id %q, got %q", tt.id, g.ID)
			}
			if len(g.Digest) != 64 {
				t.Errorf("expected sha256 hex digest, got %q", g.Digest)
			}
		})
	}
}

func TestLoadTooLarge(t *testing.T) {
	bin := wasmtest.Write(make([]byte, 512))
	l := NewFS(fstest.MapFS{"big.wasm": {Data: bin}}, WithMaxModuleSize(64))

	_, err := l.Load(context.Background(), "big")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestLoadRereadsEveryCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	if err := os.WriteFile(path, wasmtest.Write([]byte("one")), 0o644); err != nil {
		t.Fatal(err)
	}

	l := New(dir)
	first, err := l.Load(context.Background(), "mod")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	if err := os.WriteFile(path, wasmtest.Write([]byte("two")), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := l.Load(context.Background(), "mod")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if first.Digest == second.Digest {
		t.Error("expected a new digest after the module changed on disk")
	}
	if second.Path != path {
		t.Errorf("expected path %q, got %q", path, second.Path)
	}
}

func TestLoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewFS(fstest.MapFS{"empty.wasm": {Data: wasmtest.Empty()}})
	if _, err := l.Load(ctx, "empty"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
