package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"company-rag/internal/models"
	"company-rag/internal/rag"
)

const shutdownTimeout = 10 * time.Second

// Answerer is the part of rag.Service the HTTP layer needs
type Answerer interface {
	Answer(ctx context.Context, question string) (rag.Answer, error)
	Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error)
}

type Server struct {
	rag Answerer
	mux *http.ServeMux
}

type questionRequest struct {
	Question string `json:"question"`
}

type source struct {
	Source string  `json:"source"`
	Page   int     `json:"page"`
	Score  float32 `json:"score"`
}

type chatResponse struct {
	Answer   string   `json:"answer"`
	Rejected bool     `json:"rejected"`
	Sources  []source `json:"sources"`
}

type searchResult struct {
	Text string `json:"text"`
	source
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func NewServer(a Answerer) *Server {
	s := &Server{rag: a, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/chat", s.chatHandler)
	s.mux.HandleFunc("/search", s.searchHandler)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Dur("took", time.Since(start)).
		Msg("Handled request")
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	question, ok := readQuestion(w, r)
	if !ok {
		return
	}

	ans, err := s.rag.Answer(r.Context(), question)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := chatResponse{Answer: ans.Text, Rejected: ans.Rejected, Sources: []source{}}
	for _, sc := range ans.Sources {
		resp.Sources = append(resp.Sources, toSource(sc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	question, ok := readQuestion(w, r)
	if !ok {
		return
	}

	results, err := s.rag.Retrieve(r.Context(), question)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := searchResponse{Results: []searchResult{}}
	for _, sc := range results {
		resp.Results = append(resp.Results, searchResult{Text: sc.Chunk.Text, source: toSource(sc)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func readQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return "", false
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return "", false
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return "", false
	}
	return req.Question, true
}

func toSource(sc models.ScoredChunk) source {
	return source{
		Source: sc.Chunk.Metadata.Source,
		Page:   sc.Chunk.Metadata.Page,
		Score:  sc.Score,
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, rag.ErrEmptyQuestion) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Error().Err(err).Msg("Request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
