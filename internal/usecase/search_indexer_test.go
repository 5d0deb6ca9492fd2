package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

func TestSearchIndexerReplayLeavesOneDocument(t *testing.T) {
	repo := newMockSearchRepository()
	indexer := NewSearchIndexer(repo, zaptest.NewLogger(t))
	event := domain.PostCreatedEvent{
		PostID:    "p1",
		UserID:    "user-a",
		Content:   "hello world",
		CreatedAt: time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC),
	}

	for i := 0; i < 2; i++ {
		if err := indexer.HandlePostCreated(context.Background(), event); err != nil {
			t.Fatalf("HandlePostCreated returned error: %v", err)
		}
	}
	if len(repo.docs) != 1 {
		t.Fatalf("expected exactly one document, got %d", len(repo.docs))
	}
	if repo.docs["p1"].Content != "hello world" {
		t.Fatalf("unexpected document %+v", repo.docs["p1"])
	}
}

func TestSearchIndexerDeleteReplayIsNoop(t *testing.T) {
	repo := newMockSearchRepository()
	repo.docs["p1"] = domain.SearchDocument{PostID: "p1"}
	repo.docs["p2"] = domain.SearchDocument{PostID: "p2"}
	indexer := NewSearchIndexer(repo, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		if err := indexer.HandlePostDeleted(context.Background(), domain.PostDeletedEvent{PostID: "p1"}); err != nil {
			t.Fatalf("HandlePostDeleted returned error: %v", err)
		}
	}
	if _, ok := repo.docs["p1"]; ok {
		t.Fatal("expected p1 to be removed")
	}
	if _, ok := repo.docs["p2"]; !ok {
		t.Fatal("unrelated documents must survive")
	}
}

func TestSearchIndexerStoreErrorIsReturned(t *testing.T) {
	repo := newMockSearchRepository()
	repo.upsertErr = errors.New("db down")
	indexer := NewSearchIndexer(repo, zaptest.NewLogger(t))

	if err := indexer.HandlePostCreated(context.Background(), domain.PostCreatedEvent{PostID: "p1"}); err == nil {
		t.Fatal("expected store error to be returned")
	}
}

func TestSearchServiceSearch(t *testing.T) {
	repo := newMockSearchRepository()
	repo.docs["p1"] = domain.SearchDocument{PostID: "p1", Content: "gophers unite"}
	svc := NewSearchService(repo, zaptest.NewLogger(t))

	docs, err := svc.Search(context.Background(), "  gophers ")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(docs) != 1 || repo.lastQuery != "gophers" || repo.lastLimit != 10 {
		t.Fatalf("unexpected search: docs=%+v query=%q limit=%d", docs, repo.lastQuery, repo.lastLimit)
	}

	if _, err := svc.Search(context.Background(), " "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}
