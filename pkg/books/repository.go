package books

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/shelfwise/books-api/pkg/clients/postgres"
	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// Repository is the persistence surface for books. The service layer
// depends on this interface; [NewRepository] returns the PostgreSQL
// implementation.
type Repository interface {
	List(ctx context.Context) ([]Book, error)
	Get(ctx context.Context, id int64) (*Book, error)
	Create(ctx context.Context, payload *CreateBook) (*Book, error)
	Update(ctx context.Context, id int64, payload *UpdateBook) (*Book, error)
	Delete(ctx context.Context, id int64) error
}

// repository is the PostgreSQL-backed implementation of [Repository].
type repository struct {
	db *postgres.Client
}

// NewRepository creates a PostgreSQL-backed book repository.
func NewRepository(db *postgres.Client) Repository {
	return &repository{db: db}
}

// schema is the books table definition. Applied idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS books (
	id      BIGSERIAL PRIMARY KEY,
	title   VARCHAR(200) NOT NULL,
	author  VARCHAR(200) NOT NULL,
	price   DOUBLE PRECISION NOT NULL,
	in_stock BOOLEAN NOT NULL DEFAULT TRUE,
	version INT NOT NULL DEFAULT 1
)`

// EnsureSchema creates the books table if it does not exist.
func EnsureSchema(ctx context.Context, db *postgres.Client) error {
	_, err := db.Exec(ctx, schema)
	return err
}

func (r *repository) List(ctx context.Context) ([]Book, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id, title, author, price, in_stock, version FROM books ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.InStock, &b.Version); err != nil {
			return nil, apierr.Wrap(err, apierr.CodeInternalDatabase,
				"books: failed to scan book row")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternalDatabase,
			"books: failed to iterate book rows")
	}
	return out, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Book, error) {
	var b Book
	err := r.db.QueryRow(ctx,
		"SELECT id, title, author, price, in_stock, version FROM books WHERE id = $1", id).
		Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.InStock, &b.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.Newf(apierr.CodeNotFound, "books: book %d not found", id)
	}
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternalDatabase,
			"books: failed to load book")
	}
	return &b, nil
}

func (r *repository) Create(ctx context.Context, payload *CreateBook) (*Book, error) {
	b := Book{
		Title:   payload.Title,
		Author:  payload.Author,
		Price:   payload.Price,
		InStock: payload.Stocked(),
		Version: 1,
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO books (title, author, price, in_stock)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		b.Title, b.Author, b.Price, b.InStock).
		Scan(&b.ID)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternalDatabase,
			"books: failed to insert book")
	}
	return &b, nil
}

// Update applies the non-nil payload fields inside a transaction, bumping
// the version. The row is locked for the duration so concurrent updates
// serialize and each one gets a distinct version.
func (r *repository) Update(ctx context.Context, id int64, payload *UpdateBook) (*Book, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var b Book
	err = tx.QueryRow(ctx,
		`SELECT id, title, author, price, in_stock, version
		 FROM books WHERE id = $1 FOR UPDATE`, id).
		Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.InStock, &b.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.Newf(apierr.CodeNotFound, "books: book %d not found", id)
	}
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternalDatabase,
			"books: failed to load book for update")
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

	_, err = tx.Exec(ctx,
		`UPDATE books SET title = $1, author = $2, price = $3, in_stock = $4, version = $5
		 WHERE id = $6`,
		b.Title, b.Author, b.Price, b.InStock, b.Version, b.ID)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternalDatabase,
			"books: failed to update book")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternalDatabase,
			"books: failed to commit book update")
	}
	return &b, nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apierr.Newf(apierr.CodeNotFound, "books: book %d not found", id)
	}
	return nil
}
