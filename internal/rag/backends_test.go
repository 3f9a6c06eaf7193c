package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"company-rag/internal/config"
	"company-rag/internal/vectorstore"
)

func backendConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.CompanyID = "acme"
	cfg.DataDir = t.TempDir()
	cfg.Store.Backend = backend
	cfg.Store.ChromemPath = filepath.Join(cfg.DataDir, "chromemdb")
	return cfg
}

var encryptionKey = strings.Repeat("k", 32)

func TestSaveAndLoadBackends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		key     string
	}{
		{"flat", config.BackendFlat, ""},
		{"chromem", config.BackendChromem, ""},
		{"chromem encrypted", config.BackendChromem, encryptionKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := backendConfig(t, tt.backend)
			cfg.Store.EncryptionKey = tt.key
			want := testStore(t)

			if err := Save(ctx, cfg, want.Index.(*vectorstore.FlatIndex), want.Chunks); err != nil {
				t.Fatalf("Save: %v", err)
			}
			// saving twice replaces the store
			if err := Save(ctx, cfg, want.Index.(*vectorstore.FlatIndex), want.Chunks); err != nil {
				t.Fatalf("second Save: %v", err)
			}

			load, err := NewLoader(cfg)
			if err != nil {
				t.Fatalf("NewLoader: %v", err)
			}
			got, err := load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Index.Len() != 3 || got.Index.Dimension() != 2 {
				t.Fatalf("unexpected index shape %d/%d", got.Index.Len(), got.Index.Dimension())
			}
			if !reflect.DeepEqual(got.Chunks, want.Chunks) {
				t.Errorf("chunks differ:\n got %+v\nwant %+v", got.Chunks, want.Chunks)
			}
			v, err := got.Index.Reconstruct(ctx, 1)
			if err != nil || !reflect.DeepEqual(v, []float32{0, 1}) {
				t.Errorf("vector 1 is %v (%v)", v, err)
			}

			if tt.key != "" {
				export := filepath.Join(cfg.Store.ChromemPath, cfg.CompanyID+".chromem")
				if _, err := os.Stat(export); err != nil {
					t.Errorf("encrypted export not written: %v", err)
				}
			}
		})
	}
}

func TestEncryptedChromemNeedsKey(t *testing.T) {
	ctx := context.Background()
	cfg := backendConfig(t, config.BackendChromem)
	cfg.Store.EncryptionKey = encryptionKey
	s := testStore(t)
	if err := Save(ctx, cfg, s.Index.(*vectorstore.FlatIndex), s.Chunks); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg.Store.EncryptionKey = strings.Repeat("x", 32)
	load, err := NewLoader(cfg)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if _, err := load(ctx); err == nil {
		t.Fatalf("expected the export to be unreadable with another key")
	}
}

func TestLoadMissingStore(t *testing.T) {
	for _, key := range []string{"", encryptionKey} {
		for _, backend := range []string{config.BackendFlat, config.BackendChromem} {
			cfg := backendConfig(t, backend)
			cfg.Store.EncryptionKey = key
			load, err := NewLoader(cfg)
			if err != nil {
				t.Fatalf("NewLoader: %v", err)
			}
			if _, err := load(context.Background()); !errors.Is(err, vectorstore.ErrStoreNotFound) {
				t.Errorf("%s (key %t): expected ErrStoreNotFound, got %v", backend, key != "", err)
			}
		}
	}
}

func TestResetRemovesStore(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		key     string
	}{
		{"flat", config.BackendFlat, ""},
		{"chromem", config.BackendChromem, ""},
		{"chromem encrypted", config.BackendChromem, encryptionKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := backendConfig(t, tt.backend)
			cfg.Store.EncryptionKey = tt.key

			// nothing saved yet
			if err := Reset(ctx, cfg); err != nil {
				t.Fatalf("Reset on an empty store: %v", err)
			}

			s := testStore(t)
			if err := Save(ctx, cfg, s.Index.(*vectorstore.FlatIndex), s.Chunks); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := Reset(ctx, cfg); err != nil {
				t.Fatalf("Reset: %v", err)
			}

			load, err := NewLoader(cfg)
			if err != nil {
				t.Fatalf("NewLoader: %v", err)
			}
			if _, err := load(ctx); !errors.Is(err, vectorstore.ErrStoreNotFound) {
				t.Errorf("expected ErrStoreNotFound after Reset, got %v", err)
			}
		})
	}
}

func TestUnknownBackend(t *testing.T) {
	cfg := backendConfig(t, "sqlite")
	if _, err := NewLoader(cfg); err == nil {
		t.Errorf("expected NewLoader to fail")
	}
	s := testStore(t)
	if err := Save(context.Background(), cfg, s.Index.(*vectorstore.FlatIndex), s.Chunks); err == nil {
		t.Errorf("expected Save to fail")
	}
	if err := Reset(context.Background(), cfg); err == nil {
		t.Errorf("expected Reset to fail")
	}
}
