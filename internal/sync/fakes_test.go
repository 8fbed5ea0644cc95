package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	gosync "sync"

	"github.com/cybertec-postgresql/feed_mirror/internal/source"
)

var errBoom = errors.New("boom")

// fakeSource serves items from memory and counts fetches per id
type fakeSource struct {
	mu       gosync.Mutex
	maxID    int64
	maxErr   error
	changed  []int64
	changErr error
	broken   map[int64]error
	titles   map[int64]string
	fetches  map[int64]int
}

func newFakeSource(maxID int64) *fakeSource {
	return &fakeSource{
		maxID:   maxID,
		broken:  map[int64]error{},
		titles:  map[int64]string{},
		fetches: map[int64]int{},
	}
}

func (s *fakeSource) CurrentMaxID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxID, s.maxErr
}

func (s *fakeSource) FetchItem(_ context.Context, id int64) (source.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[id]++
	if err, ok := s.broken[id]; ok {
		return source.Item{}, err
	}
	title, ok := s.titles[id]
	if !ok {
		title = fmt.Sprintf("item %d", id)
	}
	return source.Item{ID: id, Type: "story", Title: title, Kids: []int64{}}, nil
}

func (s *fakeSource) FetchChangedIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.changed), s.changErr
}

func (s *fakeSource) setChanged(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = ids
}

func (s *fakeSource) setTitle(id int64, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[id] = title
}

func (s *fakeSource) fetchCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[id]
}

func (s *fakeSource) totalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.fetches {
		total += n
	}
	return total
}

// fakeStore keeps items and the high-water mark in memory
type fakeStore struct {
	mu        gosync.Mutex
	items     map[int64]source.Item
	hwm       int64
	upserts   int
	updates   int
	upsertErr func(call int) error
	updateErr error
	hwmErr    error
	onUpsert  func(items []source.Item)
}

func newFakeStore(hwm int64) *fakeStore {
	return &fakeStore{items: map[int64]source.Item{}, hwm: hwm}
}

func (s *fakeStore) UpsertItems(_ context.Context, items []source.Item) error {
	s.mu.Lock()
	s.upserts++
	call := s.upserts
	hook := s.onUpsert
	failing := s.upsertErr
	s.mu.Unlock()

	if hook != nil {
		hook(items)
	}
	if failing != nil {
		if err := failing(call); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if _, ok := s.items[item.ID]; !ok {
			s.items[item.ID] = item
		}
	}
	return nil
}

func (s *fakeStore) UpdateItems(_ context.Context, items []source.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return s.updateErr
	}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return nil
}

func (s *fakeStore) ReadHighWaterMark(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hwm, nil
}

func (s *fakeStore) WriteHighWaterMark(_ context.Context, maxID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hwmErr != nil {
		return s.hwmErr
	}
	s.hwm = max(s.hwm, maxID)
	return nil
}

func (s *fakeStore) highWaterMark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hwm
}

func (s *fakeStore) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *fakeStore) item(id int64) (source.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

func (s *fakeStore) counts() (upserts, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts, s.updates
}
