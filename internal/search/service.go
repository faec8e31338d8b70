package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// SQLite LIKE searcher.
type Service struct {
	meili    *Meili
	fallback *SQLiteLike
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *SQLiteLike) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to SQLite.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNilResults(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to sqlite: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: sqlite fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNilResults(results), Total: total, Query: q.Text}
}

// IndexRecord indexes a record (fire-and-forget to Meilisearch).
func (s *Service) IndexRecord(doc RecordDoc) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRecord(doc); err != nil {
			log.Printf("search: index record %s: %v", doc.ID, err)
		}
	}()
}

// ReindexAll reads every record from SQLite and pushes them to Meilisearch.
// Called during bootstrap if Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	docs, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(docs) == 0 {
		return
	}
	if err := s.meili.IndexRecords(docs); err != nil {
		log.Printf("search: reindex records: %v", err)
	}
}

func nonNilResults(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
