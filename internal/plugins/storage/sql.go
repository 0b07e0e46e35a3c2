package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
	"github.com/dogild/garuda/internal/sdk"
)

// entityRow is the single generic table every rest name is stored in,
// grounded on the teacher's internal/db/db.go bun.BaseModel shape
// (struct tags, pk column) but collapsed from one table per domain type to
// one polymorphic table, since Garuda's domain model is supplied externally
// and unknown at compile time.
type entityRow struct {
	bun.BaseModel `bun:"table:entities"`

	RestName   string `bun:"rest_name,pk"`
	ID         string `bun:"id,pk"`
	ParentType string `bun:"parent_type"`
	ParentID   string `bun:"parent_id"`
	Owner      string `bun:"owner"`
	Data       string `bun:"data"` // JSON-encoded entity.ToDict()
	Children   string `bun:"children"` // JSON-encoded map[string][]string
}

// SQLStorage is a bun-backed StorageProvider storing every entity as one
// row in a single generic "entities" table.
type SQLStorage struct {
	plugins.Base
	db      *bun.DB
	sdk     *sdk.Library
	manages map[string]bool

	mu sync.Mutex // serializes the read-modify-write children bookkeeping
}

// OpenSQLStorage opens dsn with the given driver ("sqlite" or "postgres"),
// ensures the entities table exists, and returns a ready StorageProvider.
func OpenSQLStorage(ctx context.Context, driver, dsn string, library *sdk.Library, manages ...string) (*SQLStorage, error) {
	conn, err := sql.Open(sqlDriverName(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("storage/sql: open %s: %w", driver, err)
	}

	var bunDB *bun.DB
	switch driver {
	case "sqlite":
		bunDB = bun.NewDB(conn, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(conn, pgdialect.New())
	default:
		conn.Close()
		return nil, fmt.Errorf("storage/sql: unsupported driver %q", driver)
	}

	if _, err := bunDB.NewCreateTable().Model((*entityRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("storage/sql: create entities table: %w", err)
	}

	if library == nil {
		library = sdk.Global()
	}
	claim := make(map[string]bool, len(manages))
	for _, m := range manages {
		claim[m] = true
	}

	log.Printf("storage: sql provider initialized (driver=%s manages=%v)", driver, manages)
	return &SQLStorage{
		Base:    plugins.NewBase(plugins.Manifest{Name: "sql.storage", Version: "1.0", Identifier: "sql.storage"}),
		db:      bunDB,
		sdk:     library,
		manages: claim,
	}, nil
}

func sqlDriverName(driver string) string {
	if driver == "postgres" {
		return "postgres"
	}
	return "sqlite"
}

func (s *SQLStorage) ShouldManage(restName, identifier string) bool {
	if len(s.manages) == 0 {
		return true
	}
	return s.manages[restName]
}

func (s *SQLStorage) Instantiate(restName string) (model.Entity, error) {
	factory, ok := s.sdk.Resolve(restName)
	if !ok {
		return nil, fmt.Errorf("storage/sql: unknown rest name %q", restName)
	}
	return factory(), nil
}

func (s *SQLStorage) hydrate(row *entityRow) (model.Entity, error) {
	e, err := s.Instantiate(row.RestName)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
			return nil, fmt.Errorf("storage/sql: decode data: %w", err)
		}
	}
	if err := e.FromDict(data); err != nil {
		return nil, err
	}
	e.SetIdentifier(row.ID)
	e.SetParent(row.ParentType, row.ParentID)
	return e, nil
}

func (s *SQLStorage) childrenOf(row *entityRow) map[string][]string {
	children := make(map[string][]string)
	if row.Children != "" {
		_ = json.Unmarshal([]byte(row.Children), &children)
	}
	return children
}

func (s *SQLStorage) Get(ctx context.Context, restName, identifier, filter string) (model.Entity, error) {
	var row entityRow
	err := s.db.NewSelect().Model(&row).Where("rest_name = ? AND id = ?", restName, identifier).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	clauses, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	_ = json.Unmarshal([]byte(row.Data), &data)
	if !Match(clauses, data) {
		return nil, nil
	}
	return s.hydrate(&row)
}

func (s *SQLStorage) GetAll(ctx context.Context, parent model.Entity, restName string, page, pageSize int, filter, orderBy string) ([]model.Entity, int, error) {
	clauses, err := ParseFilter(filter)
	if err != nil {
		return nil, 0, err
	}

	var rows []entityRow
	query := s.db.NewSelect().Model(&rows).Where("rest_name = ?", restName)

	if parent != nil {
		if rel, ok := parent.FetcherForRestName(restName); ok && rel.Member {
			var prow entityRow
			if err := s.db.NewSelect().Model(&prow).Where("rest_name = ? AND id = ?", parent.RestName(), parent.Identifier()).Scan(ctx); err != nil && err != sql.ErrNoRows {
				return nil, 0, err
			}
			ids := s.childrenOf(&prow)[restName]
			if len(ids) == 0 {
				return nil, 0, nil
			}
			query = query.Where("id IN (?)", bun.In(ids))
		} else {
			query = query.Where("parent_type = ? AND parent_id = ?", parent.RestName(), parent.Identifier())
		}
	}

	if err := query.Scan(ctx); err != nil {
		return nil, 0, err
	}

	var matched []entityRow
	for _, row := range rows {
		var data map[string]any
		_ = json.Unmarshal([]byte(row.Data), &data)
		if Match(clauses, data) {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

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
	for i := range matched {
		e, err := s.hydrate(&matched[i])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, nil
}

func (s *SQLStorage) Count(ctx context.Context, parent model.Entity, restName string, filter string) (int, error) {
	_, total, err := s.GetAll(ctx, parent, restName, 0, 0, filter, "")
	return total, err
}

func (s *SQLStorage) Create(ctx context.Context, entity model.Entity, parent model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.Identifier() == "" {
		entity.SetIdentifier(uuid.NewString())
	}
	if parent != nil {
		entity.SetParent(parent.RestName(), parent.Identifier())
	}

	data, err := json.Marshal(entity.ToDict())
	if err != nil {
		return err
	}

	row := &entityRow{
		RestName:   entity.RestName(),
		ID:         entity.Identifier(),
		ParentType: entity.ParentType(),
		ParentID:   entity.ParentID(),
		Owner:      entity.Owner(),
		Data:       string(data),
		Children:   "{}",
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return err
	}

	if parent != nil {
		if err := s.appendChild(ctx, parent, entity.RestName(), entity.Identifier()); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStorage) appendChild(ctx context.Context, parent model.Entity, childRestName, childID string) error {
	var prow entityRow
	if err := s.db.NewSelect().Model(&prow).Where("rest_name = ? AND id = ?", parent.RestName(), parent.Identifier()).Scan(ctx); err != nil {
		return err
	}
	children := s.childrenOf(&prow)
	children[childRestName] = append(children[childRestName], childID)
	encoded, err := json.Marshal(children)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().Model((*entityRow)(nil)).Set("children = ?", string(encoded)).
		Where("rest_name = ? AND id = ?", parent.RestName(), parent.Identifier()).Exec(ctx)
	return err
}

func (s *SQLStorage) removeChild(ctx context.Context, parentType, parentID, childRestName, childID string) error {
	if parentType == "" {
		return nil
	}
	var prow entityRow
	if err := s.db.NewSelect().Model(&prow).Where("rest_name = ? AND id = ?", parentType, parentID).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	children := s.childrenOf(&prow)
	children[childRestName] = removeID(children[childRestName], childID)
	encoded, err := json.Marshal(children)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().Model((*entityRow)(nil)).Set("children = ?", string(encoded)).
		Where("rest_name = ? AND id = ?", parentType, parentID).Exec(ctx)
	return err
}

func (s *SQLStorage) Update(ctx context.Context, entity model.Entity) error {
	var existing entityRow
	err := s.db.NewSelect().Model(&existing).Where("rest_name = ? AND id = ?", entity.RestName(), entity.Identifier()).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("storage/sql: %s/%s not found", entity.RestName(), entity.Identifier())
		}
		return err
	}

	next, err := json.Marshal(entity.ToDict())
	if err != nil {
		return err
	}
	if string(next) == existing.Data {
		return &ConflictError{Message: "No changes to modify the entity"}
	}

	_, err = s.db.NewUpdate().Model((*entityRow)(nil)).Set("data = ?", string(next)).Set("owner = ?", entity.Owner()).
		Where("rest_name = ? AND id = ?", entity.RestName(), entity.Identifier()).Exec(ctx)
	return err
}

func (s *SQLStorage) Delete(ctx context.Context, entity model.Entity, cascade bool) error {
	if cascade {
		var row entityRow
		err := s.db.NewSelect().Model(&row).Where("rest_name = ? AND id = ?", entity.RestName(), entity.Identifier()).Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil {
			children := s.childrenOf(&row)
			for _, childRestName := range entity.ChildrenRestNames() {
				for _, childID := range children[childRestName] {
					childEntity, err := s.Get(ctx, childRestName, childID, "")
					if err != nil || childEntity == nil {
						continue
					}
					if err := s.Delete(ctx, childEntity, true); err != nil {
						return err
					}
				}
			}
		}
	}

	if _, err := s.db.NewDelete().Model((*entityRow)(nil)).
		Where("rest_name = ? AND id = ?", entity.RestName(), entity.Identifier()).Exec(ctx); err != nil {
		return err
	}

	return s.removeChild(ctx, entity.ParentType(), entity.ParentID(), entity.RestName(), entity.Identifier())
}

func (s *SQLStorage) Assign(ctx context.Context, restName string, entities []model.Entity, parent model.Entity) error {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.Identifier())
	}

	var prow entityRow
	if err := s.db.NewSelect().Model(&prow).Where("rest_name = ? AND id = ?", parent.RestName(), parent.Identifier()).Scan(ctx); err != nil {
		return err
	}
	children := s.childrenOf(&prow)
	children[restName] = ids
	encoded, err := json.Marshal(children)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().Model((*entityRow)(nil)).Set("children = ?", string(encoded)).
		Where("rest_name = ? AND id = ?", parent.RestName(), parent.Identifier()).Exec(ctx)
	return err
}

var _ plugins.StorageProvider = (*SQLStorage)(nil)
