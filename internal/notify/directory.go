package notify

import (
	"context"
	"strings"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/storage"
)

// Contact is what the directory knows about a driver.
type Contact struct {
	Email string
	Phone string
	Name  string
}

// Directory resolves a normalized email to a contact. ok is false when the
// user has no record.
type Directory interface {
	LookupContact(ctx context.Context, email string) (Contact, bool, error)
}

// StoreDirectory reads userAccess/<email>.
type StoreDirectory struct {
	Store storage.Store
}

func (d StoreDirectory) LookupContact(ctx context.Context, email string) (Contact, bool, error) {
	doc, ok, err := storage.GetOptional(ctx, d.Store, models.CollectionUserAccess, email)
	if err != nil || !ok {
		return Contact{}, false, err
	}
	return Contact{
		Email: email,
		Phone: strings.TrimSpace(normalize.String(doc.Fields, "phone", "Phone")),
		Name:  normalize.String(doc.Fields, "name", "displayName"),
	}, true, nil
}
