package indexer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"localchat/internal/chat"
)

// Hit is one matching conversation turn.
type Hit struct {
	SessionID string  `json:"session_id"`
	Position  int     `json:"position"`
	Role      string  `json:"role"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// HistoryIndex is a full-text index over every session's turns. Document ids
// are "<session>:<position>", so re-indexing a turn overwrites it.
type HistoryIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

func buildMapping() mapping.IndexMapping {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	turn := bleve.NewDocumentMapping()
	turn.AddFieldMappingsAt("session_id", kw)
	turn.AddFieldMappingsAt("role", kw)
	turn.AddFieldMappingsAt("text", text)
	turn.AddFieldMappingsAt("position", bleve.NewNumericFieldMapping())
	turn.AddFieldMappingsAt("indexed_at", bleve.NewDateTimeFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = turn
	return im
}

// Open creates the index at path or opens an existing one.
func Open(path string) (*HistoryIndex, error) {
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, buildMapping())
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open history index: %w", err)
	}
	return &HistoryIndex{index: idx}, nil
}

// NewMemOnly returns an in-memory index.
func NewMemOnly() (*HistoryIndex, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, err
	}
	return &HistoryIndex{index: idx}, nil
}

func docID(sessionID string, position int) string {
	return fmt.Sprintf("%s:%d", sessionID, position)
}

func turnDoc(sessionID string, position int, t chat.Turn) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sessionID,
		"position":   position,
		"role":       t.Role,
		"text":       t.Text,
		"indexed_at": time.Now().UTC(),
	}
}

// IndexTurn adds or replaces one turn.
func (h *HistoryIndex) IndexTurn(sessionID string, position int, t chat.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index.Index(docID(sessionID, position), turnDoc(sessionID, position, t))
}

// IndexSession (re)indexes a whole history in one batch.
func (h *HistoryIndex) IndexSession(sessionID string, history []chat.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.index.NewBatch()
	for i, t := range history {
		if err := b.Index(docID(sessionID, i), turnDoc(sessionID, i, t)); err != nil {
			return fmt.Errorf("batch index %s: %w", sessionID, err)
		}
	}
	return h.index.Batch(b)
}

// DeleteSession removes every turn of a session.
func (h *HistoryIndex) DeleteSession(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	q := bleve.NewTermQuery(sessionID)
	q.SetField("session_id")
	for {
		req := bleve.NewSearchRequestOptions(q, 500, 0, false)
		res, err := h.index.Search(req)
		if err != nil {
			return fmt.Errorf("history search: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		b := h.index.NewBatch()
		for _, hit := range res.Hits {
			b.Delete(hit.ID)
		}
		if err := h.index.Batch(b); err != nil {
			return fmt.Errorf("history delete: %w", err)
		}
	}
}

// Search matches text against indexed turns, optionally restricted to one
// session. size <= 0 means 10.
func (h *HistoryIndex) Search(text, sessionID string, size int) ([]Hit, error) {
	if size <= 0 {
		size = 10
	}
	mq := bleve.NewMatchQuery(text)
	mq.SetField("text")
	var q query.Query = mq
	if sessionID != "" {
		sq := bleve.NewTermQuery(sessionID)
		sq.SetField("session_id")
		q = bleve.NewConjunctionQuery(mq, sq)
	}

	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.Fields = []string{"session_id", "position", "role", "text"}

	h.mu.RLock()
	res, err := h.index.Search(req)
	h.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("history search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, m := range res.Hits {
		hit := Hit{Score: m.Score}
		hit.SessionID, _ = m.Fields["session_id"].(string)
		hit.Role, _ = m.Fields["role"].(string)
		hit.Text, _ = m.Fields["text"].(string)
		if pos, ok := m.Fields["position"].(float64); ok {
			hit.Position = int(pos)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed turns.
func (h *HistoryIndex) Count() (uint64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.DocCount()
}

func (h *HistoryIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index.Close()
}
