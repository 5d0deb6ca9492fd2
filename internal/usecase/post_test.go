package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/dhruv-khokhar/ChatterNet/internal/cache"
)

func newTestPostService(t *testing.T) (*PostService, *mockPostRepository, *recordingPublisher) {
	t.Helper()
	store, _ := newCacheStore(t)
	repo := &mockPostRepository{}
	events := &recordingPublisher{}
	svc := NewPostService(repo, store, events, PostCacheTTL{Post: time.Hour, Listing: 5 * time.Minute}, zaptest.NewLogger(t))

	clock := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, repo, events
}

func TestPostServiceCreatePublishesAndInvalidatesListing(t *testing.T) {
	svc, repo, events := newTestPostService(t)
	ctx := context.Background()

	first, err := svc.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if first.TotalPosts != 0 {
		t.Fatalf("expected empty listing, got %+v", first)
	}
	if _, err := svc.List(ctx, 1, 10); err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if repo.listCalls != 1 {
		t.Fatalf("expected second listing to be served from cache, got %d loads", repo.listCalls)
	}

	post, err := svc.Create(ctx, CreatePostInput{UserID: "user-a", Content: "hello", MediaIDs: []string{"m1", "m2"}})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if len(events.created) != 1 {
		t.Fatalf("expected one post.created event, got %d", len(events.created))
	}
	evt := events.created[0]
	if evt.PostID != post.ID || evt.Content != "hello" || evt.UserID != "user-a" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.EventID == "" {
		t.Fatal("expected event id to be set")
	}

	page, err := svc.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if repo.listCalls != 2 {
		t.Fatalf("expected listing after create to miss the cache, got %d loads", repo.listCalls)
	}
	if page.TotalPosts != 1 || len(page.Posts) != 1 || page.Posts[0].ID != post.ID {
		t.Fatalf("expected new post in listing, got %+v", page)
	}
	if len(page.Posts[0].MediaIDs) != 2 {
		t.Fatalf("expected media ids to round-trip the cache, got %+v", page.Posts[0])
	}
}

func TestPostServiceCreateValidation(t *testing.T) {
	svc, repo, events := newTestPostService(t)

	cases := []CreatePostInput{
		{UserID: "user-a", Content: "hi"},
		{UserID: "user-a", Content: "   "},
		{UserID: "", Content: "hello"},
	}
	for _, in := range cases {
		if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrInvalidPost) {
			t.Fatalf("expected ErrInvalidPost for %+v, got %v", in, err)
		}
	}
	if len(repo.posts) != 0 || len(events.created) != 0 {
		t.Fatal("invalid posts must not be stored or announced")
	}
}

func TestPostServicePublishFailureDoesNotFailCreate(t *testing.T) {
	svc, repo, events := newTestPostService(t)
	events.err = errors.New("broker down")

	post, err := svc.Create(context.Background(), CreatePostInput{UserID: "user-a", Content: "still saved"})
	if err != nil {
		t.Fatalf("publish failure must not fail the request: %v", err)
	}
	if len(repo.posts) != 1 || repo.posts[0].ID != post.ID {
		t.Fatalf("expected post to stay committed, got %+v", repo.posts)
	}
}

func TestPostServiceGetReadThrough(t *testing.T) {
	svc, repo, _ := newTestPostService(t)
	ctx := context.Background()

	post, err := svc.Create(ctx, CreatePostInput{UserID: "user-a", Content: "cached post"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := svc.Get(ctx, post.ID)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if got.Content != "cached post" {
			t.Fatalf("unexpected post %+v", got)
		}
	}
	if repo.getCalls != 1 {
		t.Fatalf("expected one repository read, got %d", repo.getCalls)
	}

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound on repeat, got %v", err)
	}
	if repo.getCalls != 3 {
		t.Fatalf("misses must not be cached, got %d reads", repo.getCalls)
	}
}

func TestPostServiceDeleteByNonOwnerIsNotFound(t *testing.T) {
	svc, repo, events := newTestPostService(t)
	ctx := context.Background()

	post, err := svc.Create(ctx, CreatePostInput{UserID: "user-a", Content: "mine"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := svc.Delete(ctx, post.ID, "user-b"); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound for foreign delete, got %v", err)
	}
	if len(repo.posts) != 1 {
		t.Fatal("post must survive a foreign delete")
	}
	if len(events.deleted) != 0 {
		t.Fatal("no post.deleted may be published for a foreign delete")
	}
}

func TestPostServiceDeleteInvalidatesAndPublishes(t *testing.T) {
	store, server := newCacheStore(t)
	repo := &mockPostRepository{}
	events := &recordingPublisher{}
	svc := NewPostService(repo, store, events, PostCacheTTL{}, zaptest.NewLogger(t))
	ctx := context.Background()

	post, err := svc.Create(ctx, CreatePostInput{UserID: "user-a", Content: "short lived", MediaIDs: []string{"m1"}})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := svc.Get(ctx, post.ID); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if _, err := svc.List(ctx, 2, 5); err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if !server.Exists(cache.PostKey(post.ID)) || !server.Exists(cache.PostListKey(2, 5)) {
		t.Fatal("expected entries to be cached before delete")
	}

	if err := svc.Delete(ctx, post.ID, "user-a"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if server.Exists(cache.PostKey(post.ID)) || server.Exists(cache.PostListKey(2, 5)) {
		t.Fatal("expected delete to invalidate post and listing entries")
	}
	if len(events.deleted) != 1 {
		t.Fatalf("expected one post.deleted, got %d", len(events.deleted))
	}
	if got := events.deleted[0]; got.PostID != post.ID || len(got.MediaIDs) != 1 || got.MediaIDs[0] != "m1" {
		t.Fatalf("unexpected event %+v", got)
	}
	if _, err := svc.Get(ctx, post.ID); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected deleted post to be gone, got %v", err)
	}
}

func TestPostServiceListPagination(t *testing.T) {
	svc, _, _ := newTestPostService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, CreatePostInput{UserID: "user-a", Content: "post number"}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	page, err := svc.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if page.CurrentPage != 2 || page.TotalPages != 2 || page.TotalPosts != 3 || len(page.Posts) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}

	page, err = svc.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if page.CurrentPage != 1 || len(page.Posts) != 3 {
		t.Fatalf("expected defaults to apply, got %+v", page)
	}
}
