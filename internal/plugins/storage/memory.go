// Package storage holds the reference StorageProvider implementations: an
// in-memory provider for tests/development and a bun-backed SQL provider
// for anything meant to survive a restart.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
	"github.com/dogild/garuda/internal/sdk"
)

// record is one stored entity, keyed by (rest_name, id), generalized from
// the teacher's fixed Application/Session maps (internal/plugins/storage/memory.go)
// to Garuda's arbitrary rest-name keyed entities.
type record struct {
	restName   string
	id         string
	parentType string
	parentID   string
	owner      string
	data       map[string]any
	children   map[string][]string // child rest name -> ordered child ids
}

// MemoryStorage is an in-memory StorageProvider. Not suitable for
// multi-replica deployments — each worker process gets its own map, mirroring
// the teacher's "WARNING: NOT suitable for multi-replica deployments"
// comment on its own MemoryStorage.
type MemoryStorage struct {
	plugins.Base
	sdk     *sdk.Library
	manages map[string]bool // rest names this instance claims; nil/empty = claim everything

	mu      sync.RWMutex
	records map[string]map[string]*record // rest name -> id -> record
}

// NewMemoryStorage returns an empty in-memory storage provider. manages, if
// non-empty, restricts ShouldManage to the listed rest names; an empty set
// means this provider claims every rest name (useful as the sole storage
// plugin in a small deployment).
func NewMemoryStorage(library *sdk.Library, manages ...string) *MemoryStorage {
	if library == nil {
		library = sdk.Global()
	}
	claim := make(map[string]bool, len(manages))
	for _, m := range manages {
		claim[m] = true
	}
	log.Printf("storage: memory provider initialized (manages=%v)", manages)
	return &MemoryStorage{
		Base:    plugins.NewBase(plugins.Manifest{Name: "memory.storage", Version: "1.0", Identifier: "memory.storage"}),
		sdk:     library,
		manages: claim,
		records: make(map[string]map[string]*record),
	}
}

func (s *MemoryStorage) ShouldManage(restName, identifier string) bool {
	if len(s.manages) == 0 {
		return true
	}
	return s.manages[restName]
}

func (s *MemoryStorage) Instantiate(restName string) (model.Entity, error) {
	factory, ok := s.sdk.Resolve(restName)
	if !ok {
		return nil, fmt.Errorf("storage: unknown rest name %q", restName)
	}
	return factory(), nil
}

func (s *MemoryStorage) bucket(restName string) map[string]*record {
	b, ok := s.records[restName]
	if !ok {
		b = make(map[string]*record)
		s.records[restName] = b
	}
	return b
}

func (s *MemoryStorage) hydrate(r *record) (model.Entity, error) {
	e, err := s.Instantiate(r.restName)
	if err != nil {
		return nil, err
	}
	if err := e.FromDict(r.data); err != nil {
		return nil, err
	}
	e.SetIdentifier(r.id)
	e.SetParent(r.parentType, r.parentID)
	return e, nil
}

func (s *MemoryStorage) Get(ctx context.Context, restName, identifier string, filter string) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.bucket(restName)[identifier]
	if !ok {
		return nil, nil
	}

	clauses, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	if !Match(clauses, r.data) {
		return nil, nil
	}
	return s.hydrate(r)
}

func (s *MemoryStorage) GetAll(ctx context.Context, parent model.Entity, restName string, page, pageSize int, filter, orderBy string) ([]model.Entity, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clauses, err := ParseFilter(filter)
	if err != nil {
		return nil, 0, err
	}

	var candidateIDs []string
	if parent != nil {
		if rel, ok := parent.FetcherForRestName(restName); ok && rel.Member {
			candidateIDs = append(candidateIDs, s.parentRecord(parent).children[restName]...)
		} else {
			for id, r := range s.bucket(restName) {
				if r.parentType == parent.RestName() && r.parentID == parent.Identifier() {
					candidateIDs = append(candidateIDs, id)
				}
			}
		}
	} else {
		for id := range s.bucket(restName) {
			candidateIDs = append(candidateIDs, id)
		}
	}
	sort.Strings(candidateIDs)

	bucket := s.bucket(restName)
	var matched []*record
	for _, id := range candidateIDs {
		r, ok := bucket[id]
		if !ok {
			continue
		}
		if Match(clauses, r.data) {
			matched = append(matched, r)
		}
	}

	total := len(matched)
	if pageSize > 0 {
		skip := page * pageSize
		if skip > len(matched) {
			skip = len(matched)
		}
		end := skip + pageSize
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[skip:end]
	}

	out := make([]model.Entity, 0, len(matched))
	for _, r := range matched {
		e, err := s.hydrate(r)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, nil
}

func (s *MemoryStorage) Count(ctx context.Context, parent model.Entity, restName string, filter string) (int, error) {
	_, total, err := s.GetAll(ctx, parent, restName, 0, 0, filter, "")
	return total, err
}

// parentRecord finds the record backing the given parent entity, used to
// read/write its children association lists.
func (s *MemoryStorage) parentRecord(parent model.Entity) *record {
	bucket := s.bucket(parent.RestName())
	r, ok := bucket[parent.Identifier()]
	if !ok {
		r = &record{restName: parent.RestName(), id: parent.Identifier(), children: make(map[string][]string)}
		bucket[parent.Identifier()] = r
	}
	if r.children == nil {
		r.children = make(map[string][]string)
	}
	return r
}

func (s *MemoryStorage) Create(ctx context.Context, entity model.Entity, parent model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.Identifier() == "" {
		entity.SetIdentifier(uuid.NewString())
	}
	bucket := s.bucket(entity.RestName())
	if _, exists := bucket[entity.Identifier()]; exists {
		return fmt.Errorf("storage: %s/%s already exists", entity.RestName(), entity.Identifier())
	}

	if parent != nil {
		entity.SetParent(parent.RestName(), parent.Identifier())
	}

	bucket[entity.Identifier()] = &record{
		restName:   entity.RestName(),
		id:         entity.Identifier(),
		parentType: entity.ParentType(),
		parentID:   entity.ParentID(),
		owner:      entity.Owner(),
		data:       entity.ToDict(),
		children:   make(map[string][]string),
	}

	if parent != nil {
		pr := s.parentRecord(parent)
		pr.children[entity.RestName()] = append(pr.children[entity.RestName()], entity.Identifier())
	}
	return nil
}

func (s *MemoryStorage) Update(ctx context.Context, entity model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucket(entity.RestName())
	existing, ok := bucket[entity.Identifier()]
	if !ok {
		return fmt.Errorf("storage: %s/%s not found", entity.RestName(), entity.Identifier())
	}

	next := entity.ToDict()
	if dictsEqual(existing.data, next) {
		return &ConflictError{Message: "No changes to modify the entity"}
	}

	existing.data = next
	existing.owner = entity.Owner()
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, entity model.Entity, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(entity, cascade)
}

func (s *MemoryStorage) deleteLocked(entity model.Entity, cascade bool) error {
	bucket := s.bucket(entity.RestName())
	r, ok := bucket[entity.Identifier()]
	if !ok {
		return fmt.Errorf("storage: %s/%s not found", entity.RestName(), entity.Identifier())
	}

	if cascade {
		for _, childRestName := range entity.ChildrenRestNames() {
			for _, childID := range append([]string(nil), r.children[childRestName]...) {
				childBucket := s.bucket(childRestName)
				childRecord, ok := childBucket[childID]
				if !ok {
					continue
				}
				childEntity, err := s.hydrate(childRecord)
				if err != nil {
					return err
				}
				if err := s.deleteLocked(childEntity, true); err != nil {
					return err
				}
			}
		}
	}

	delete(bucket, entity.Identifier())

	if entity.ParentType() != "" {
		pbucket := s.bucket(entity.ParentType())
		if pr, ok := pbucket[entity.ParentID()]; ok {
			pr.children[entity.RestName()] = removeID(pr.children[entity.RestName()], entity.Identifier())
		}
	}
	return nil
}

func (s *MemoryStorage) Assign(ctx context.Context, restName string, entities []model.Entity, parent model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.Identifier())
	}
	pr := s.parentRecord(parent)
	pr.children[restName] = ids
	return nil
}

func removeID(ids []string, target string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func dictsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if fmt.Sprint(v) != fmt.Sprint(b[k]) {
			return false
		}
	}
	return true
}

// ConflictError signals that an Update call changed nothing.
type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

// IsConflict reports whether err is (or wraps) a ConflictError, letting
// callers outside this package map a no-op update onto a CONFLICT result.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

var _ plugins.StorageProvider = (*MemoryStorage)(nil)
