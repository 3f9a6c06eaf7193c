package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"company-rag/internal/config"
	"company-rag/internal/models"
	"company-rag/internal/vectorstore"
)

const insertBatchSize = 500

// ChunkRow is one chunk of a company's store. Position is the vector id.
// CompanyID owns the row, ChunkCompanyID is the company recorded in the
// chunk's own metadata.
type ChunkRow struct {
	bun.BaseModel  `bun:"table:rag_chunks,alias:rc"`
	ID             int64             `bun:"id,pk,autoincrement"`
	CompanyID      string            `bun:"company_id,notnull,unique:company_position"`
	Position       int               `bun:"position,notnull,unique:company_position"`
	Text           string            `bun:"text,notnull"`
	Source         string            `bun:"source"`
	Page           int               `bun:"page"`
	ChunkCompanyID string            `bun:"chunk_company_id"`
	Extra          map[string]string `bun:"extra,type:jsonb"`
	Embedding      pgvector.Vector   `bun:"embedding,notnull,type:vector"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a connection with pgdriver, or lib/pq when the driver is "pq"
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Driver == "pq" {
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %v", err)
		}
		return sqldb, nil
	}

	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %v", err)
	}
	_, err := db.NewCreateTable().Model((*ChunkRow)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chunks table: %v", err)
	}
	return nil
}

// SaveStore replaces every row of companyID with the given store
func SaveStore(ctx context.Context, db *bun.DB, companyID string, store *vectorstore.Store) error {
	rows, err := toRows(ctx, companyID, store)
	if err != nil {
		return err
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := deleteRows(ctx, tx, companyID); err != nil {
			return err
		}
		for start := 0; start < len(rows); start += insertBatchSize {
			batch := rows[start:min(start+insertBatchSize, len(rows))]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("failed to store chunks: %v", err)
			}
		}
		log.Info().Str("company_id", companyID).Int("chunks", len(rows)).Msg("Stored chunks in postgres")
		return nil
	})
}

// LoadStore reads a company's rows back in position order
func LoadStore(ctx context.Context, db *bun.DB, companyID string) (*vectorstore.Store, error) {
	var rows []ChunkRow
	err := db.NewSelect().
		Model(&rows).
		Where("company_id = ?", companyID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %v", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no chunks for company %s", vectorstore.ErrStoreNotFound, companyID)
	}
	return assemble(rows)
}

// DeleteStore removes every row of companyID and reports how many were deleted
func DeleteStore(ctx context.Context, db *bun.DB, companyID string) (int64, error) {
	n, err := deleteRows(ctx, db, companyID)
	if err != nil {
		return 0, err
	}
	log.Info().Str("company_id", companyID).Int64("chunks", n).Msg("Deleted chunks from postgres")
	return n, nil
}

func deleteRows(ctx context.Context, db bun.IDB, companyID string) (int64, error) {
	res, err := db.NewDelete().Model((*ChunkRow)(nil)).Where("company_id = ?", companyID).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chunks: %v", err)
	}
	return res.RowsAffected()
}

func toRows(ctx context.Context, companyID string, store *vectorstore.Store) ([]ChunkRow, error) {
	rows := make([]ChunkRow, len(store.Chunks))
	for i, c := range store.Chunks {
		v, err := store.Index.Reconstruct(ctx, i)
		if err != nil {
			return nil, err
		}
		rows[i] = ChunkRow{
			CompanyID:      companyID,
			Position:       i,
			Text:           c.Text,
			Source:         c.Metadata.Source,
			Page:           c.Metadata.Page,
			ChunkCompanyID: c.Metadata.CompanyID,
			Extra:          c.Metadata.Extra,
			Embedding:      pgvector.NewVector(v),
		}
	}
	return rows, nil
}

// assemble rebuilds a store from rows sorted by position
func assemble(rows []ChunkRow) (*vectorstore.Store, error) {
	vectors := make([][]float32, len(rows))
	chunks := make([]models.Chunk, len(rows))
	for i, r := range rows {
		if r.Position != i {
			return nil, fmt.Errorf("%w: expected position %d, found %d", vectorstore.ErrCorruptStore, i, r.Position)
		}
		vectors[i] = r.Embedding.Slice()
		chunks[i] = models.Chunk{
			Text: r.Text,
			Metadata: models.Metadata{
				Source:    r.Source,
				Page:      r.Page,
				CompanyID: r.ChunkCompanyID,
				Extra:     r.Extra,
			},
		}
	}

	idx, err := vectorstore.Build(vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrCorruptStore, err)
	}
	return vectorstore.NewStore(idx, chunks)
}
