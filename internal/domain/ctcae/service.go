package ctcae

import (
	"context"

	"github.com/google/uuid"
)

type Service struct {
	events AdverseEventRepository
}

func NewService(events AdverseEventRepository) *Service {
	return &Service{events: events}
}

// ListEvents returns catalog entries ordered by display order, then patient
// friendly name.
func (s *Service) ListEvents(ctx context.Context, f Filter) ([]*AdverseEvent, error) {
	items, err := s.events.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*AdverseEvent{}
	}
	return items, nil
}

func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*AdverseEvent, error) {
	return s.events.GetByID(ctx, id)
}
