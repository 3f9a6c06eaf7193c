package rag

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"company-rag/internal/chromemdb"
	"company-rag/internal/config"
	"company-rag/internal/db"
	"company-rag/internal/models"
	"company-rag/internal/vectorstore"
)

// NewLoader returns the loader for the configured store backend
func NewLoader(cfg *config.Config) (Loader, error) {
	switch cfg.Store.Backend {
	case config.BackendFlat:
		return FileLoader(vectorstore.HandleFor(cfg.DataDir, cfg.CompanyID)), nil
	case config.BackendChromem:
		return chromemLoader(cfg), nil
	case config.BackendPostgres:
		return postgresLoader(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// Save writes a built index and its chunks to the configured backend, replacing
// whatever the company had before.
func Save(ctx context.Context, cfg *config.Config, idx *vectorstore.FlatIndex, chunks []models.Chunk) error {
	store, err := vectorstore.NewStore(idx, chunks)
	if err != nil {
		return err
	}

	switch cfg.Store.Backend {
	case config.BackendFlat:
		_, err := vectorstore.Persist(cfg.StoreDir(), idx, chunks, vectorstore.PersistOptions{
			CompanyID:  cfg.CompanyID,
			EmbedModel: cfg.Embed.Model,
		})
		return err

	case config.BackendChromem:
		// with a key only the encrypted export is written, the database stays in memory
		encrypted := cfg.Store.EncryptionKey != ""
		m, err := chromemdb.NewVectorDBManager(cfg.Store.ChromemPath, cfg.CompanyID, encrypted, cfg.Store.EncryptionKey)
		if err != nil {
			return err
		}
		if _, err := m.GetOrCreateCollection(cfg.CompanyID); err != nil {
			return err
		}
		if err := m.DeleteCollection(); err != nil {
			return err
		}
		if _, err := m.GetOrCreateCollection(cfg.CompanyID); err != nil {
			return err
		}
		vectors := make([][]float32, idx.Len())
		for i := range vectors {
			if vectors[i], err = idx.Reconstruct(ctx, i); err != nil {
				return err
			}
		}
		if err := m.SaveChunks(ctx, vectors, chunks); err != nil {
			return err
		}
		if encrypted {
			return m.Export(ctx)
		}
		return nil

	case config.BackendPostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		defer bunDB.Close()
		if err := db.InitDB(ctx, bunDB); err != nil {
			return err
		}
		return db.SaveStore(ctx, bunDB, cfg.CompanyID, store)

	default:
		return fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// Reset deletes the company's store from the configured backend. Resetting a
// company without a store succeeds.
func Reset(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Backend {
	case config.BackendFlat:
		if err := os.RemoveAll(cfg.StoreDir()); err != nil {
			return fmt.Errorf("failed to remove store: %v", err)
		}
		log.Info().Str("dir", cfg.StoreDir()).Msg("Removed flat store")
		return nil

	case config.BackendChromem:
		encrypted := cfg.Store.EncryptionKey != ""
		m, err := chromemdb.NewVectorDBManager(cfg.Store.ChromemPath, cfg.CompanyID, encrypted, cfg.Store.EncryptionKey)
		if err != nil {
			return err
		}
		if encrypted {
			return m.RemoveExport()
		}
		if _, err := m.GetOrCreateCollection(cfg.CompanyID); err != nil {
			return err
		}
		return m.DeleteCollection()

	case config.BackendPostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		defer bunDB.Close()
		_, err = db.DeleteStore(ctx, bunDB, cfg.CompanyID)
		return err

	default:
		return fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// chromemLoader opens the persistent collection, or imports the encrypted
// export when an encryption key is configured
func chromemLoader(cfg *config.Config) Loader {
	return func(ctx context.Context) (*Store, error) {
		encrypted := cfg.Store.EncryptionKey != ""
		m, err := chromemdb.NewVectorDBManager(cfg.Store.ChromemPath, cfg.CompanyID, encrypted, cfg.Store.EncryptionKey)
		if err != nil {
			return nil, err
		}
		if encrypted {
			err = m.Import(ctx, cfg.CompanyID)
		} else {
			_, err = m.GetOrCreateCollection(cfg.CompanyID)
		}
		if err != nil {
			return nil, err
		}
		idx, err := m.Index(ctx)
		if err != nil {
			return nil, err
		}
		if idx.Len() == 0 {
			return nil, fmt.Errorf("%w: chromem collection %s is empty", vectorstore.ErrStoreNotFound, cfg.CompanyID)
		}
		chunks, err := m.LoadChunks(ctx)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("collection", cfg.CompanyID).
			Bool("encrypted", encrypted).
			Int("chunks", len(chunks)).
			Msg("Loaded chromem store")
		return &Store{Index: idx, Chunks: chunks}, nil
	}
}

// the postgres store is read into memory once, the connection is not kept
func postgresLoader(cfg *config.Config) Loader {
	return func(ctx context.Context) (*Store, error) {
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		defer bunDB.Close()

		s, err := db.LoadStore(ctx, bunDB, cfg.CompanyID)
		if err != nil {
			return nil, err
		}
		log.Info().Str("company_id", cfg.CompanyID).Int("chunks", len(s.Chunks)).Msg("Loaded postgres store")
		return &Store{Index: s.Index, Chunks: s.Chunks}, nil
	}
}
