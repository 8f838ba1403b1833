package impl

import (
	"fmt"
	"sync"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
)

// ConditionListener observes condition changes. Listeners run under the store
// lock in emission order, so they must not block or call back into the store.
type ConditionListener func(cond entity.QueryCondition)

type conditionListener struct {
	id int
	fn ConditionListener
}

// ConditionStore holds the current query condition and publishes every new
// value to its listeners in the order they registered.
type ConditionStore struct {
	maxRadiusKm float64

	mu        sync.Mutex
	current   entity.QueryCondition
	seeded    bool
	discarded bool
	nextID    int
	listeners []conditionListener
}

// NewConditionStore creates an empty store. A positive maxRadiusKm rejects
// conditions with a larger radius.
func NewConditionStore(maxRadiusKm float64) *ConditionStore {
	return &ConditionStore{
		maxRadiusKm: maxRadiusKm,
	}
}

// Seed sets the first value. It can only be called once.
func (s *ConditionStore) Seed(initial entity.QueryCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return err
	}
	if s.seeded {
		return domainerrors.ErrInvalidLifecycleTransition.WithDetails("condition store already seeded")
	}
	if err := s.validate(initial); err != nil {
		return err
	}

	s.seeded = true
	s.setLocked(initial)

	return nil
}

// Publish replaces the current value with next.
func (s *ConditionStore) Publish(next entity.QueryCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return err
	}
	if !s.seeded {
		return domainerrors.ErrInvalidLifecycleTransition.WithDetails("condition store not seeded")
	}
	if err := s.validate(next); err != nil {
		return err
	}

	s.setLocked(next)

	return nil
}

// Update composes the next value from the current one and publishes it as a
// single step, so concurrent producers changing different fields never lose
// each other's writes.
func (s *ConditionStore) Update(compose func(current entity.QueryCondition) entity.QueryCondition) (entity.QueryCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return entity.QueryCondition{}, err
	}
	if !s.seeded {
		return entity.QueryCondition{}, domainerrors.ErrInvalidLifecycleTransition.WithDetails("condition store not seeded")
	}

	next := compose(s.current)
	if err := s.validate(next); err != nil {
		return entity.QueryCondition{}, err
	}

	s.setLocked(next)

	return next, nil
}

// Current returns the latest value; ok is false before Seed.
func (s *ConditionStore) Current() (entity.QueryCondition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current, s.seeded
}

// Subscribe registers fn. If the store is already seeded, fn immediately
// receives the current value, before any later publish.
func (s *ConditionStore) Subscribe(fn ConditionListener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discarded {
		return func() {}
	}

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, conditionListener{id: id, fn: fn})

	if s.seeded {
		fn(s.current)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)

				break
			}
		}
	}
}

// Discard drops all listeners; every later write fails.
func (s *ConditionStore) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.discarded = true
	s.listeners = nil
}

func (s *ConditionStore) checkWritableLocked() error {
	if s.discarded {
		return domainerrors.ErrInvalidLifecycleTransition.WithDetails("condition store discarded")
	}

	return nil
}

func (s *ConditionStore) validate(cond entity.QueryCondition) error {
	if err := cond.Validate(); err != nil {
		return domainerrors.ErrInvalidCondition.WithDetails(err.Error())
	}
	if s.maxRadiusKm > 0 && cond.RadiusKm > s.maxRadiusKm {
		return domainerrors.ErrInvalidCondition.WithDetails(
			fmt.Sprintf("radius %.3fkm exceeds maximum %.3fkm", cond.RadiusKm, s.maxRadiusKm),
		)
	}

	return nil
}

func (s *ConditionStore) setLocked(cond entity.QueryCondition) {
	s.current = cond
	for _, l := range s.listeners {
		l.fn(cond)
	}
}
