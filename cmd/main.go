package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"company-rag/internal/chunker"
	"company-rag/internal/config"
	"company-rag/internal/embedding"
	"company-rag/internal/helper"
	"company-rag/internal/llmservice"
	"company-rag/internal/models"
	"company-rag/internal/parser"
	"company-rag/internal/rag"
	"company-rag/internal/server"
	"company-rag/internal/vectorstore"
)

const configFilePath = "./configs/config.yaml"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", configFilePath, "Path to the YAML config")
	filePath := flag.String("file", "", "Document file or directory to build the store from")
	companyID := flag.String("company-id", "", "Company whose store is built or queried")
	query := flag.String("query", "", "Question to be answered")
	dryRun := flag.Bool("dry-run", false, "Parse and chunk only, do not embed or save")
	serve := flag.Bool("serve", false, "Serve the HTTP API")
	reset := flag.Bool("reset", false, "Delete the company's store, then build it again when -file is given")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if *companyID != "" {
		cfg.CompanyID = *companyID
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Debug().Str("company_id", cfg.CompanyID).Str("backend", cfg.Store.Backend).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case (*filePath != "" || *reset) && (*query != "" || *serve):
		log.Fatal().Msg("Please provide either -file / -reset to change a store, or -query / -serve to use one, but not both")
	case *reset:
		if err := rag.Reset(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Error resetting store")
		}
		log.Info().Str("company_id", cfg.CompanyID).Str("backend", cfg.Store.Backend).Msg("Store reset")
		if *filePath != "" {
			buildStore(ctx, cfg, *filePath, *dryRun)
		}
	case *filePath != "":
		buildStore(ctx, cfg, *filePath, *dryRun)
	case *query != "":
		answerQuery(ctx, cfg, *query)
	case *serve:
		serveHTTP(ctx, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// buildStore parses, chunks, embeds and saves every supported document under path
func buildStore(ctx context.Context, cfg *config.Config, path string, dryRun bool) {
	files, err := collectFiles(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading input")
	}
	if len(files) == 0 {
		log.Fatal().Str("path", path).Msg("No supported documents found")
	}

	var pages []models.Document
	for _, f := range files {
		docs, err := parser.ParseFile(f, cfg.CompanyID)
		if err != nil {
			log.Error().Err(err).Str("file", f).Msg("Error parsing document")
			continue
		}
		pages = append(pages, docs...)
	}

	chunks := chunker.Chunk(pages, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	log.Info().Int("files", len(files)).Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("Chunked documents")
	if len(chunks) == 0 {
		log.Fatal().Msg("No text extracted, nothing to index")
	}

	if dryRun {
		helper.PrettyPrint(chunks)
		return
	}

	embedder, err := embedding.NewEmbedder(&cfg.Embed)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	vectors, err := embedding.GenerateEmbeddings(ctx, embedder, chunks)
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating embeddings")
	}

	idx, err := vectorstore.Build(vectors)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building index")
	}
	if err := rag.Save(ctx, cfg, idx, chunks); err != nil {
		log.Fatal().Err(err).Msg("Error saving store")
	}
	log.Info().Str("company_id", cfg.CompanyID).Int("vectors", idx.Len()).Int("dimension", idx.Dimension()).Msg("Store built")
}

func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && parser.Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func newService(cfg *config.Config) *rag.Service {
	loader, err := rag.NewLoader(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error configuring store")
	}

	var embedder embedding.Embedder
	embedder, err = embedding.NewEmbedder(&cfg.Embed)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	if cfg.Cache.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		embedder = embedding.WithCache(embedder, embedding.NewRedisCache(client, cfg.Cache.TTL), cfg.Embed.Model)
		log.Info().Str("addr", cfg.Cache.Addr).Msg("Caching query embeddings in redis")
	}

	generator, err := llmservice.NewGenerator(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing generator")
	}
	return rag.New(cfg.RAG, loader, embedder, generator)
}

func answerQuery(ctx context.Context, cfg *config.Config, query string) {
	svc := newService(cfg)
	ans, err := svc.Answer(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Bool("rejected", ans.Rejected).Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, s := range ans.Sources {
		fmt.Printf("%.3f  %s (page %d)\n", s.Score, s.Chunk.Metadata.Source, s.Chunk.Metadata.Page)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", ans.Text)
}

func serveHTTP(ctx context.Context, cfg *config.Config) {
	srv := server.NewServer(newService(cfg))
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
