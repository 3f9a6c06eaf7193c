package vectorstore

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"company-rag/internal/helper"
	"company-rag/internal/models"
)

const (
	IndexFile    = "index.gob"
	ChunksFile   = "chunks.jsonl"
	ManifestFile = "manifest.yaml"
)

// StoreHandle locates a persisted store on disk
type StoreHandle struct {
	Dir string
}

// HandleFor returns the handle of a company's store under dataDir,
// laid out as <dataDir>/processed/<companyID>.
func HandleFor(dataDir, companyID string) StoreHandle {
	return StoreHandle{Dir: filepath.Join(dataDir, "processed", companyID)}
}

// Manifest describes a persisted store
type Manifest struct {
	ID         string    `yaml:"id"`
	CompanyID  string    `yaml:"company_id,omitempty"`
	EmbedModel string    `yaml:"embed_model,omitempty"`
	Dimension  int       `yaml:"dimension"`
	Count      int       `yaml:"count"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// PersistOptions carries descriptive fields written to the manifest
type PersistOptions struct {
	CompanyID  string
	EmbedModel string
}

// Store is a loaded index together with its index-aligned chunks.
// Chunks[i] belongs to vector id i. A Store is read-only.
type Store struct {
	Index    *FlatIndex
	Chunks   []models.Chunk
	Manifest Manifest
}

// NewStore pairs an index with its chunks, checking that they line up
func NewStore(idx *FlatIndex, chunks []models.Chunk) (*Store, error) {
	if idx.Len() != len(chunks) {
		return nil, fmt.Errorf("%w: index holds %d vectors but there are %d chunks", ErrCorruptStore, idx.Len(), len(chunks))
	}
	return &Store{
		Index:  idx,
		Chunks: chunks,
		Manifest: Manifest{
			Dimension: idx.Dimension(),
			Count:     idx.Len(),
		},
	}, nil
}

type indexFile struct {
	Dimension int
	Vectors   [][]float32
}

// Persist writes idx and chunks under dir so that Load reproduces the same pairing
func Persist(dir string, idx *FlatIndex, chunks []models.Chunk, opts PersistOptions) (StoreHandle, error) {
	if idx.Len() != len(chunks) {
		return StoreHandle{}, fmt.Errorf("%w: index holds %d vectors but there are %d chunks", ErrCorruptStore, idx.Len(), len(chunks))
	}
	if err := helper.CreateFolder(dir); err != nil {
		return StoreHandle{}, err
	}

	if err := writeIndex(filepath.Join(dir, IndexFile), idx); err != nil {
		return StoreHandle{}, err
	}
	if err := writeChunks(filepath.Join(dir, ChunksFile), chunks); err != nil {
		return StoreHandle{}, err
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return StoreHandle{}, err
	}
	manifest := Manifest{
		ID:         id,
		CompanyID:  opts.CompanyID,
		EmbedModel: opts.EmbedModel,
		Dimension:  idx.Dimension(),
		Count:      idx.Len(),
		CreatedAt:  time.Now().UTC(),
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return StoreHandle{}, fmt.Errorf("failed to encode manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return StoreHandle{}, fmt.Errorf("failed to write manifest: %v", err)
	}

	log.Info().Str("dir", dir).Str("id", id).Int("count", manifest.Count).Int("dimension", manifest.Dimension).Msg("Persisted vector store")
	return StoreHandle{Dir: dir}, nil
}

func writeIndex(path string, idx *FlatIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %v", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(indexFile{Dimension: idx.dim, Vectors: idx.vectors}); err != nil {
		return fmt.Errorf("failed to encode index: %v", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write index: %v", err)
	}
	return f.Close()
}

func writeChunks(path string, chunks []models.Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chunks file: %v", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("failed to encode chunk %d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write chunks: %v", err)
	}
	return f.Close()
}

// Load reads a store written by Persist
func Load(h StoreHandle) (*Store, error) {
	manifest, err := readManifest(filepath.Join(h.Dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	idx, err := readIndex(filepath.Join(h.Dir, IndexFile))
	if err != nil {
		return nil, err
	}
	chunks, err := readChunks(filepath.Join(h.Dir, ChunksFile))
	if err != nil {
		return nil, err
	}

	if idx.Len() != len(chunks) {
		return nil, fmt.Errorf("%w: index holds %d vectors but %s has %d lines", ErrCorruptStore, idx.Len(), ChunksFile, len(chunks))
	}
	if manifest.Count != idx.Len() || (idx.Len() > 0 && manifest.Dimension != idx.Dimension()) {
		return nil, fmt.Errorf("%w: manifest describes %d vectors of dimension %d", ErrCorruptStore, manifest.Count, manifest.Dimension)
	}

	log.Debug().Str("dir", h.Dir).Str("id", manifest.ID).Int("count", len(chunks)).Msg("Loaded vector store")
	return &Store{Index: idx, Chunks: chunks, Manifest: manifest}, nil
}

func open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreNotFound, path, err)
	}
	return f, nil
}

func readManifest(path string) (Manifest, error) {
	f, err := open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()

	var m Manifest
	if err := yaml.NewDecoder(f).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("%w: failed to decode manifest: %v", ErrCorruptStore, err)
	}
	return m, nil
}

func readIndex(path string) (*FlatIndex, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var data indexFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: failed to decode index: %v", ErrCorruptStore, err)
	}
	for i, v := range data.Vectors {
		if len(v) != data.Dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrCorruptStore, i, len(v), data.Dimension)
		}
	}
	return &FlatIndex{dim: data.Dimension, vectors: data.Vectors}, nil
}

func readChunks(path string) ([]models.Chunk, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []models.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var c models.Chunk
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorruptStore, ChunksFile, line, err)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrCorruptStore, ChunksFile, err)
	}
	return chunks, nil
}
