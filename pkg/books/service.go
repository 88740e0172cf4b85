package books

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/shelfwise/books-api/pkg/books"

// Service validates payloads and delegates persistence to a [Repository].
// It is safe for concurrent use.
type Service struct {
	repo   Repository
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a Service. If logger is nil, slog.Default is used.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// List returns all books in insertion order.
func (s *Service) List(ctx context.Context) ([]Book, error) {
	ctx, span := s.tracer.Start(ctx, "books.List")
	defer span.End()

	return s.repo.List(ctx)
}

// ListSorted returns all books ordered by title, case-insensitively. This
// is the v2 listing behavior.
func (s *Service) ListSorted(ctx context.Context) ([]Book, error) {
	ctx, span := s.tracer.Start(ctx, "books.ListSorted")
	defer span.End()

	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out, nil
}

// Get returns the book with the given ID.
func (s *Service) Get(ctx context.Context, id int64) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "books.Get",
		trace.WithAttributes(attribute.Int64("book.id", id)))
	defer span.End()

	return s.repo.Get(ctx, id)
}

// Create validates the payload and stores a new book.
func (s *Service) Create(ctx context.Context, payload *CreateBook) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "books.Create")
	defer span.End()

	if err := payload.Validate(); err != nil {
		return nil, err
	}

	b, err := s.repo.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "books: created",
		"book_id", b.ID,
		"title", b.Title,
	)
	return b, nil
}

// Update validates the payload and applies the partial update, bumping the
// book's version.
func (s *Service) Update(ctx context.Context, id int64, payload *UpdateBook) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "books.Update",
		trace.WithAttributes(attribute.Int64("book.id", id)))
	defer span.End()

	if err := payload.Validate(); err != nil {
		return nil, err
	}

	b, err := s.repo.Update(ctx, id, payload)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "books: updated",
		"book_id", b.ID,
		"version", b.Version,
	)
	return b, nil
}

// Delete removes the book with the given ID.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "books.Delete",
		trace.WithAttributes(attribute.Int64("book.id", id)))
	defer span.End()

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "books: deleted", "book_id", id)
	return nil
}
