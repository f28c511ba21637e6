package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// timelineRepositoryInMemory хранит события в памяти (для разработки/тестов).
type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{events: make(map[string][]domain.TimelineEvent)}
}

// Append добавляет событие, сохраняя хронологический порядок.
func (r *timelineRepositoryInMemory) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.events[event.AggregateID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.events[event.AggregateID] = events
	return nil
}

// List возвращает события агрегата в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(_ context.Context, aggregateID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent(nil), r.events[aggregateID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
