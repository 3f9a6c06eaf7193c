package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"company-rag/internal/helper"
	"company-rag/internal/models"
	"company-rag/internal/vectorstore"
)

// metadata keys stored on every chromem document
const (
	metaSource    = "source"
	metaPage      = "page"
	metaCompanyID = "company_id"
	extraPrefix   = "extra."
)

const (
	compress = false
)

var errNoEmbedder = errors.New("collection only accepts precomputed embeddings")

// VectorDBManager encapsulates the chromem-go database operations.
// Document ids are chunk positions, so document "i" is paired with vector id i.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(dbPath, collectionName string, inMemory bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(dbPath, collectionName+".chromem"),
	}, nil
}

// embedding function that refuses to embed; all vectors come from the oracle
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, errNoEmbedder
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	m.collection = c
	return c, nil
}

// SaveChunks adds vectors and their chunks to the collection, keyed by position
func (m *VectorDBManager) SaveChunks(ctx context.Context, vectors [][]float32, chunks []models.Chunk) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d vectors but %d chunks", vectorstore.ErrCorruptStore, len(vectors), len(chunks))
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   c.Text,
			Metadata:  toMetadata(c.Metadata),
			Embedding: vectors[i],
		}
	}

	log.Info().Msgf("Adding %d documents to vector database", len(docs))
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// LoadChunks reads every chunk back in position order
func (m *VectorDBManager) LoadChunks(ctx context.Context) ([]models.Chunk, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	n := m.collection.Count()
	chunks := make([]models.Chunk, n)
	for i := 0; i < n; i++ {
		doc, err := m.collection.GetByID(ctx, strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("%w: collection %s has %d documents but position %d is missing", vectorstore.ErrCorruptStore, m.collection.Name, n, i)
		}
		chunks[i] = models.Chunk{Text: doc.Content, Metadata: fromMetadata(doc.Metadata)}
	}
	return chunks, nil
}

// Index returns a searcher over the current collection
func (m *VectorDBManager) Index(ctx context.Context) (*Index, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	idx := &Index{collection: m.collection}
	if m.collection.Count() > 0 {
		doc, err := m.collection.GetByID(ctx, "0")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", vectorstore.ErrCorruptStore, err)
		}
		idx.dim = len(doc.Embedding)
	}
	return idx, nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	if m.collection == nil {
		return nil
	}
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %v", err)
	}
	m.collection = nil
	return nil
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}
	if err := helper.CreateFolder(m.dbPath); err != nil {
		return err
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

// RemoveExport deletes the exported file, a missing file is not an error
func (m *VectorDBManager) RemoveExport() error {
	if err := os.Remove(m.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove export: %v", err)
	}
	return nil
}

// import from file; the collection handle is refreshed afterwards
func (m *VectorDBManager) Import(ctx context.Context, collectionName string) error {
	if _, err := os.Stat(m.filePath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", vectorstore.ErrStoreNotFound, m.filePath)
	}
	err := m.db.ImportFromFile(m.filePath, m.encryptionKey, collectionName)
	if err != nil {
		return fmt.Errorf("failed to import database: %v", err)
	}
	c := m.db.GetCollection(collectionName, noEmbed)
	if c == nil {
		return fmt.Errorf("%w: collection %s not in %s", vectorstore.ErrStoreNotFound, collectionName, m.filePath)
	}
	m.collection = c
	return nil
}

// Index adapts a chromem collection to vectorstore.Searcher
type Index struct {
	collection *chromem.Collection
	dim        int
}

func (x *Index) Dimension() int { return x.dim }

func (x *Index) Len() int { return x.collection.Count() }

func (x *Index) Search(ctx context.Context, query []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	count := x.collection.Count()
	if count > 0 && len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", vectorstore.ErrDimensionMismatch, len(query), x.dim)
	}

	hits := make([]vectorstore.Hit, 0, k)
	if n := min(k, count); n > 0 {
		results, err := x.collection.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %v", err)
		}
		for _, r := range results {
			id, err := strconv.Atoi(r.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: unexpected document id %q", vectorstore.ErrCorruptStore, r.ID)
			}
			hits = append(hits, vectorstore.Hit{ID: id, Score: r.Similarity})
		}
		// equal scores are ordered by position, matching the flat index
		slices.SortFunc(hits, func(a, b vectorstore.Hit) int {
			switch {
			case a.Score > b.Score:
				return -1
			case a.Score < b.Score:
				return 1
			}
			return a.ID - b.ID
		})
	}
	for len(hits) < k {
		hits = append(hits, vectorstore.Hit{ID: vectorstore.NoResult})
	}
	return hits, nil
}

func (x *Index) Reconstruct(ctx context.Context, id int) ([]float32, error) {
	doc, err := x.collection.GetByID(ctx, strconv.Itoa(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %d", vectorstore.ErrInvalidID, id)
	}
	return slices.Clone(doc.Embedding), nil
}

func toMetadata(m models.Metadata) map[string]string {
	out := map[string]string{
		metaSource:    m.Source,
		metaPage:      strconv.Itoa(m.Page),
		metaCompanyID: m.CompanyID,
	}
	for k, v := range m.Extra {
		out[extraPrefix+k] = v
	}
	return out
}

func fromMetadata(meta map[string]string) models.Metadata {
	m := models.Metadata{
		Source:    meta[metaSource],
		CompanyID: meta[metaCompanyID],
	}
	m.Page, _ = strconv.Atoi(meta[metaPage])
	for k, v := range meta {
		if name, ok := strings.CutPrefix(k, extraPrefix); ok {
			if m.Extra == nil {
				m.Extra = map[string]string{}
			}
			m.Extra[name] = v
		}
	}
	return m
}
