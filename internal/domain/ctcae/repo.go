package ctcae

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrEventNotFound = errors.New("CTCAE event not found")

// AdverseEventRepository reads the catalog. The catalog is loaded by
// migrations and is read-only at runtime.
type AdverseEventRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*AdverseEvent, error)
	List(ctx context.Context, f Filter) ([]*AdverseEvent, error)
}
