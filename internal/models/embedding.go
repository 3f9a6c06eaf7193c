package models

// Metadata describes where a piece of text came from.
// Extra holds any additional key/value pairs the extractor attaches.
type Metadata struct {
	Source    string            `json:"source"`
	Page      int               `json:"page"`
	CompanyID string            `json:"company_id"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Clone returns a copy of m that shares no mutable state with it.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Document is one extracted page of text
type Document struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Chunk is a bounded slice of document text, the unit of retrieval
type Chunk struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// ScoredChunk pairs a chunk with its cosine similarity to the query
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}
