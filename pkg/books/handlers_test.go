package books

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// openGate admits everything; gate behavior has its own tests.
type openGate struct{}

func (openGate) Require(_ ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

// memoryRepository is an in-memory Repository for handler tests.
type memoryRepository struct {
	nextID int64
	items  map[int64]Book
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{nextID: 1, items: make(map[int64]Book)}
}

func (m *memoryRepository) List(_ context.Context) ([]Book, error) {
	ids := make([]int64, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Book, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.items[id])
	}
	return out, nil
}

func (m *memoryRepository) Get(_ context.Context, id int64) (*Book, error) {
	b, ok := m.items[id]
	if !ok {
		return nil, apierr.Newf(apierr.CodeNotFound, "books: book %d not found", id)
	}
	return &b, nil
}

func (m *memoryRepository) Create(_ context.Context, payload *CreateBook) (*Book, error) {
	b := Book{
		ID:      m.nextID,
		Title:   payload.Title,
		Author:  payload.Author,
		Price:   payload.Price,
		InStock: payload.Stocked(),
		Version: 1,
	}
	m.items[b.ID] = b
	m.nextID++
	return &b, nil
}

func (m *memoryRepository) Update(_ context.Context, id int64, payload *UpdateBook) (*Book, error) {
	b, ok := m.items[id]
	if !ok {
		return nil, apierr.Newf(apierr.CodeNotFound, "books: book %d not found", id)
	}
	if payload.Title != nil {
		b.Title = *payload.Title
	}
	if payload.Author != nil {
		b.Author = *payload.Author
	}
	if payload.Price != nil {
		b.Price = *payload.Price
	}
	if payload.InStock != nil {
		b.InStock = *payload.InStock
	}
	b.Version++
	m.items[id] = b
	return &b, nil
}

func (m *memoryRepository) Delete(_ context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return apierr.Newf(apierr.CodeNotFound, "books: book %d not found", id)
	}
	delete(m.items, id)
	return nil
}

func newTestRouter(t *testing.T) (*mux.Router, *memoryRepository) {
	t.Helper()
	repo := newMemoryRepository()
	handler := NewHandler(NewService(repo, nil), nil, nil)

	r := mux.NewRouter()
	handler.Register(r, openGate{})
	return r, repo
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/books",
		CreateBook{Title: "The Go Programming Language", Author: "Donovan", Price: 39.99})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, 1, created.Version)
	assert.True(t, created.InStock)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/books/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created, got)
}

func TestHandler_CreateValidationFailure(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/books",
		CreateBook{Title: "", Author: "Donovan", Price: 39.99})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/books",
		CreateBook{Title: "T", Author: "A", Price: -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateRejectsUnknownFields(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/books",
		map[string]any{"title": "T", "author": "A", "price": 1.0, "isbn": "123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListEmptyIsArray(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/books", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandler_GetNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/books/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
}

func TestHandler_UpdateBumpsVersion(t *testing.T) {
	router, _ := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/books",
		CreateBook{Title: "Old", Author: "A", Price: 10})

	rec := doJSON(t, router, http.MethodPut, "/api/v1/books/1",
		UpdateBook{Title: strPtr("New")})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, "A", updated.Author)
	assert.Equal(t, 2, updated.Version)
}

func TestHandler_UpdateNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPut, "/api/v1/books/5",
		UpdateBook{Title: strPtr("New")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Delete(t *testing.T) {
	router, repo := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/books",
		CreateBook{Title: "T", Author: "A", Price: 10})

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/books/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, repo.items)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/books/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_V2ListIsSortedByTitle(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, title := range []string{"zebra", "Apple", "mango"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/books",
			CreateBook{Title: title, Author: "A", Price: 10})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// v1 keeps insertion order.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/books", nil)
	var v1 []Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v1))
	assert.Equal(t, []string{"zebra", "Apple", "mango"}, titles(v1))

	// v2 sorts case-insensitively by title.
	rec = doJSON(t, router, http.MethodGet, "/api/v2/books", nil)
	var v2 []Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v2))
	assert.Equal(t, []string{"Apple", "mango", "zebra"}, titles(v2))
}

func titles(books []Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}

func TestHandler_HealthWithoutChecker(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandler_NonNumericIDIsNotRouted(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/books/abc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
