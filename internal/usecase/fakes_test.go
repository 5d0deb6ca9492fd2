package usecase

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/repository"
	redisrepo "github.com/dhruv-khokhar/ChatterNet/internal/repository/redis"
)

func newCacheStore(t *testing.T) (*redisrepo.CacheRepository, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return redisrepo.NewCacheRepository(client), server
}

type mockPostRepository struct {
	mu    sync.Mutex
	posts []domain.Post

	createErr  error
	listCalls  int
	getCalls   int
	countCalls int
}

func (m *mockPostRepository) Create(_ context.Context, post domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.posts = append(m.posts, post)
	return nil
}

func (m *mockPostRepository) GetByID(_ context.Context, id string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	for _, p := range m.posts {
		if p.ID == id {
			copy := p
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockPostRepository) List(_ context.Context, offset, limit int) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	sorted := append([]domain.Post(nil), m.posts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if offset >= len(sorted) {
		return []domain.Post{}, nil
	}
	end := min(offset+limit, len(sorted))
	return sorted[offset:end], nil
}

func (m *mockPostRepository) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	return len(m.posts), nil
}

func (m *mockPostRepository) DeleteOwned(_ context.Context, id, userID string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.posts {
		if p.ID == id && p.UserID == userID {
			m.posts = append(m.posts[:i], m.posts[i+1:]...)
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

type recordingPublisher struct {
	created []domain.PostCreatedEvent
	deleted []domain.PostDeletedEvent
	err     error
}

func (r *recordingPublisher) PublishPostCreated(_ context.Context, event domain.PostCreatedEvent) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, event)
	return nil
}

func (r *recordingPublisher) PublishPostDeleted(_ context.Context, event domain.PostDeletedEvent) error {
	if r.err != nil {
		return r.err
	}
	r.deleted = append(r.deleted, event)
	return nil
}

type mockMediaRepository struct {
	records map[string]domain.Media

	createErr  error
	getErr     error
	deleteErr  map[string]error
	getCalls   int
	deleteIDs  []string
	createCall int
}

func newMockMediaRepository(records ...domain.Media) *mockMediaRepository {
	m := &mockMediaRepository{records: make(map[string]domain.Media), deleteErr: make(map[string]error)}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

func (m *mockMediaRepository) Create(_ context.Context, media domain.Media) error {
	m.createCall++
	if m.createErr != nil {
		return m.createErr
	}
	m.records[media.ID] = media
	return nil
}

func (m *mockMediaRepository) List(_ context.Context, limit int) ([]domain.Media, error) {
	out := make([]domain.Media, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMediaRepository) GetByIDs(_ context.Context, ids []string) ([]domain.Media, error) {
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make([]domain.Media, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockMediaRepository) Delete(_ context.Context, id string) error {
	m.deleteIDs = append(m.deleteIDs, id)
	if err := m.deleteErr[id]; err != nil {
		return err
	}
	delete(m.records, id)
	return nil
}

type mockObjectStore struct {
	objects   map[string][]byte
	putErr    error
	deleteErr map[string]error
	deleted   []string
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte), deleteErr: make(map[string]error)}
}

func (m *mockObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.objects[key] = data
	return "http://objects.test/" + key, nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

type mockSearchRepository struct {
	docs      map[string]domain.SearchDocument
	upsertErr error
	lastQuery string
	lastLimit int
}

func newMockSearchRepository() *mockSearchRepository {
	return &mockSearchRepository{docs: make(map[string]domain.SearchDocument)}
}

func (m *mockSearchRepository) Upsert(_ context.Context, doc domain.SearchDocument) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.docs[doc.PostID] = doc
	return nil
}

func (m *mockSearchRepository) DeleteByPostID(_ context.Context, postID string) (bool, error) {
	_, ok := m.docs[postID]
	delete(m.docs, postID)
	return ok, nil
}

func (m *mockSearchRepository) Search(_ context.Context, query string, limit int) ([]domain.SearchDocument, error) {
	m.lastQuery = query
	m.lastLimit = limit
	out := make([]domain.SearchDocument, 0)
	for _, d := range m.docs {
		if strings.Contains(d.Content, query) {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockUserRepository struct {
	users     map[string]domain.User
	createErr error
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]domain.User)}
}

func (m *mockUserRepository) Create(_ context.Context, user domain.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepository) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

type mockRefreshTokenRepository struct {
	tokens map[string]domain.RefreshToken
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{tokens: make(map[string]domain.RefreshToken)}
}

func (m *mockRefreshTokenRepository) Create(_ context.Context, token domain.RefreshToken) error {
	m.tokens[token.TokenHash] = token
	return nil
}

func (m *mockRefreshTokenRepository) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	if t, ok := m.tokens[hash]; ok {
		return &t, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockRefreshTokenRepository) DeleteByHash(_ context.Context, hash string) (bool, error) {
	_, ok := m.tokens[hash]
	delete(m.tokens, hash)
	return ok, nil
}

// plainHasher stores passwords reversibly; hashing cost is not under test.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Verify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "plain:") {
		return false, errors.New("unexpected hash format")
	}
	return encoded == "plain:"+password, nil
}

type stubIssuer struct {
	issued []domain.Principal
}

func (s *stubIssuer) Issue(p domain.Principal) (string, error) {
	s.issued = append(s.issued, p)
	return "access-" + p.UserID, nil
}
