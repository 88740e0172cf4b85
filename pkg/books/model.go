// Package books implements the book catalog: the domain model, the
// PostgreSQL repository, the service layer, and the HTTP handlers mounted
// under /api/v1 and /api/v2.
package books

import (
	"strings"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// Field bounds for book attributes.
const (
	maxTitleLen  = 200
	maxAuthorLen = 200
	maxPrice     = 100000.0
)

// Book is one catalog entry. Version starts at 1 and increments on every
// update, letting clients detect concurrent modification.
type Book struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	Author  string  `json:"author"`
	Price   float64 `json:"price"`
	InStock bool    `json:"in_stock"`
	Version int     `json:"version"`
}

// CreateBook is the payload for creating a book.
type CreateBook struct {
	Title   string  `json:"title"`
	Author  string  `json:"author"`
	Price   float64 `json:"price"`
	InStock *bool   `json:"in_stock,omitempty"`
}

// Validate checks the creation payload against the field bounds.
func (p *CreateBook) Validate() error {
	if err := validateTitle(p.Title); err != nil {
		return err
	}
	if err := validateAuthor(p.Author); err != nil {
		return err
	}
	return validatePrice(p.Price)
}

// Stocked returns the in-stock flag, defaulting to true when omitted.
func (p *CreateBook) Stocked() bool {
	if p.InStock == nil {
		return true
	}
	return *p.InStock
}

// UpdateBook is the payload for a partial update. Nil fields are left
// unchanged.
type UpdateBook struct {
	Title   *string  `json:"title,omitempty"`
	Author  *string  `json:"author,omitempty"`
	Price   *float64 `json:"price,omitempty"`
	InStock *bool    `json:"in_stock,omitempty"`
}

// Validate checks every supplied field against the field bounds.
func (p *UpdateBook) Validate() error {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Author != nil {
		if err := validateAuthor(*p.Author); err != nil {
			return err
		}
	}
	if p.Price != nil {
		if err := validatePrice(*p.Price); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the update carries no changes at all.
func (p *UpdateBook) Empty() bool {
	return p.Title == nil && p.Author == nil && p.Price == nil && p.InStock == nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return apierr.New(apierr.CodeValidationRequired,
			"books: title must not be empty")
	}
	if len(title) > maxTitleLen {
		return apierr.Newf(apierr.CodeValidationRange,
			"books: title must be at most %d characters", maxTitleLen)
	}
	return nil
}

func validateAuthor(author string) error {
	if strings.TrimSpace(author) == "" {
		return apierr.New(apierr.CodeValidationRequired,
			"books: author must not be empty")
	}
	if len(author) > maxAuthorLen {
		return apierr.Newf(apierr.CodeValidationRange,
			"books: author must be at most %d characters", maxAuthorLen)
	}
	return nil
}

func validatePrice(price float64) error {
	if price <= 0 || price >= maxPrice {
		return apierr.Newf(apierr.CodeValidationRange,
			"books: price must be greater than 0 and less than %g", maxPrice)
	}
	return nil
}
