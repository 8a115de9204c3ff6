// ABOUTME: Append-only conversation memory backed by a markdown log and an embedding index
// ABOUTME: Returns the whole log while small, otherwise the top-K entries most similar to the query

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/2389/clawswarm/internal/llm"
	"github.com/2389/clawswarm/internal/store"
)

// embedBatch bounds one backfill request.
const embedBatch = 64

// Config configures a Store.
type Config struct {
	Path string
	// MaxChars is the log size at or below which Read returns every entry.
	MaxChars int
	// TopK is the number of entries Read returns above MaxChars.
	TopK     int
	Embedder llm.Embedder
	// Index persists vectors. Nil keeps them in process memory only.
	Index  store.EmbeddingIndex
	Logger *slog.Logger
}

// Store is the agent's memory. Append and Read are serialized by one mutex,
// so concurrent callers see entries in a single order.
type Store struct {
	mu       sync.Mutex
	path     string
	maxChars int
	topK     int
	embedder llm.Embedder
	index    store.EmbeddingIndex
	logger   *slog.Logger

	loaded  bool
	entries []Entry
	chars   int

	// vectors mirrors the index; nil until first needed.
	vectors map[int][]float32

	dirty atomic.Bool
}

// New creates a Store. The log file is created on first Append.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	embedder := cfg.Embedder
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 20
	}
	return &Store{
		path:     cfg.Path,
		maxChars: cfg.MaxChars,
		topK:     topK,
		embedder: embedder,
		index:    cfg.Index,
		logger:   logger.With("component", "memory"),
	}
}

// Path returns the log file path.
func (s *Store) Path() string {
	return s.path
}

// Append writes entries to the log and indexes them. Entries are normalized
// the way they read back and returned with their offsets. Indexing failures
// are logged and repaired by the next Read.
func (s *Store) Append(ctx context.Context, entries ...Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	var b strings.Builder
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e = normalize(e)
		e.Offset = len(s.entries) + i
		out[i] = e
		b.WriteString(encode(e))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening memory log: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing memory log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing memory log: %w", err)
	}

	s.entries = append(s.entries, out...)
	s.chars += utf8.RuneCountInString(b.String())

	if err := s.indexLocked(ctx, out); err != nil {
		s.logger.Warn("indexing memory entries failed", "count", len(out), "error", err)
	}

	s.logger.Debug("appended memory", "count", len(out), "total", len(s.entries))
	return out, nil
}

// Read returns context for query: every entry while the log is at most
// MaxChars, otherwise exactly TopK entries ranked by similarity and returned
// in log order.
func (s *Store) Read(ctx context.Context, query string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	if s.chars <= s.maxChars || len(s.entries) <= s.topK {
		return cloneEntries(s.entries), nil
	}

	if err := s.backfillLocked(ctx); err != nil {
		return nil, fmt.Errorf("building memory index: %w", err)
	}
	qv, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(qv))
	}

	offsets := make([]int, len(s.entries))
	for i := range offsets {
		offsets[i] = i
	}
	picked := topK(qv[0], s.vectors, offsets, s.topK)

	out := make([]Entry, len(picked))
	for i, off := range picked {
		out[i] = s.entries[off]
	}
	return out, nil
}

// Entries returns every entry in log order.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return cloneEntries(s.entries), nil
}

// loadLocked parses the log on first use and after an out-of-band change.
// A rewrite that changes existing entries also drops the index.
func (s *Store) loadLocked() error {
	if s.loaded && !s.dirty.Swap(false) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading memory log: %w", err)
	}
	fresh := parse(string(data))

	if s.loaded && !hasPrefix(fresh, s.entries) {
		s.logger.Info("memory log rewritten, dropping index", "entries", len(fresh))
		s.vectors = nil
		if s.index != nil {
			if err := s.index.ClearEmbeddings(context.Background()); err != nil {
				return fmt.Errorf("clearing memory index: %w", err)
			}
		}
	}

	s.entries = fresh
	s.chars = utf8.RuneCount(data)
	s.loaded = true
	return nil
}

func hasPrefix(entries, prefix []Entry) bool {
	if len(prefix) > len(entries) {
		return false
	}
	for i := range prefix {
		if !sameEntry(entries[i], prefix[i]) {
			return false
		}
	}
	return true
}

func sameEntry(a, b Entry) bool {
	return a.Offset == b.Offset &&
		a.Timestamp.Equal(b.Timestamp) &&
		a.Platform == b.Platform &&
		a.ChannelID == b.ChannelID &&
		a.Sender == b.Sender &&
		a.Role == b.Role &&
		a.Text == b.Text
}

// loadVectorsLocked pulls the persisted index into memory once.
func (s *Store) loadVectorsLocked(ctx context.Context) error {
	if s.vectors != nil {
		return nil
	}
	s.vectors = make(map[int][]float32)
	if s.index == nil {
		return nil
	}
	stored, err := s.index.Embeddings(ctx)
	if err != nil {
		s.vectors = nil
		return err
	}
	for off, v := range stored {
		if off < len(s.entries) {
			s.vectors[off] = v
		}
	}
	return nil
}

// backfillLocked embeds every entry the index is missing.
func (s *Store) backfillLocked(ctx context.Context) error {
	if err := s.loadVectorsLocked(ctx); err != nil {
		return err
	}
	var missing []Entry
	for _, e := range s.entries {
		if _, ok := s.vectors[e.Offset]; !ok {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	s.logger.Info("backfilling memory index", "missing", len(missing))
	for start := 0; start < len(missing); start += embedBatch {
		end := min(start+embedBatch, len(missing))
		if err := s.indexLocked(ctx, missing[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// indexLocked embeds entries and stores their vectors.
func (s *Store) indexLocked(ctx context.Context, entries []Entry) error {
	if err := s.loadVectorsLocked(ctx); err != nil {
		return err
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(entries))
	}
	for i, e := range entries {
		if s.index != nil {
			if err := s.index.PutEmbedding(ctx, e.Offset, vecs[i]); err != nil {
				return err
			}
		}
		s.vectors[e.Offset] = vecs[i]
	}
	return nil
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}
