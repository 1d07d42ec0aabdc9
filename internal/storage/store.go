package storage

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrAlreadyExists      = errors.New("document already exists")
	ErrPreconditionFailed = errors.New("document version precondition failed")
)

// Store defines the document operations the engine relies on. List returns
// documents in ascending id order.
type Store interface {
	List(ctx context.Context, collection string) ([]models.Document, error)
	Get(ctx context.Context, collection, id string) (models.Document, error)
	// Create fails with ErrAlreadyExists when the document is present.
	Create(ctx context.Context, collection, id string, fields models.Fields) error
	// Set replaces the whole document body.
	Set(ctx context.Context, collection, id string, fields models.Fields) error
	// SetMerge overwrites only the given top-level fields, creating the
	// document when missing.
	SetMerge(ctx context.Context, collection, id string, fields models.Fields) error
	Delete(ctx context.Context, collection, id string) error
	// Batch applies writes independently and returns one error slot per write.
	Batch(ctx context.Context, writes []Write) []error
}

type Op int

const (
	OpCreate Op = iota
	OpSet
	OpSetMerge
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpSetMerge:
		return "merge"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Write is a single batched mutation. IfVersion, when non-zero, makes Set and
// Delete conditional on the stored version.
type Write struct {
	Op         Op
	Collection string
	ID         string
	Fields     models.Fields
	IfVersion  int64
}

// GetOptional is Get with a missing document reported as ok=false.
func GetOptional(ctx context.Context, s Store, collection, id string) (models.Document, bool, error) {
	doc, err := s.Get(ctx, collection, id)
	if errors.Is(err, ErrNotFound) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, err
	}
	return doc, true, nil
}

// applySequential runs writes one by one through the single-document API of s.
func applySequential(ctx context.Context, writes []Write, apply func(context.Context, Write) error) []error {
	errs := make([]error, len(writes))
	for i, w := range writes {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		errs[i] = apply(ctx, w)
	}
	return errs
}
