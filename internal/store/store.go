// internal/store/store.go
package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bankroll-service/internal/schema"
	"bankroll-service/pkg/models"
)

// Store is the relational destination: dynamic row access by table name for
// the sync engine, plus persistence for the sheet-mapping configuration.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// tableName guards the dynamic SQL below: only tables the registry knows are
// ever addressed, so a sheet name can never smuggle SQL into a query.
func tableName(table string) (string, error) {
	if _, ok := schema.SchemaOf(table); !ok {
		return "", fmt.Errorf("unknown destination table %q", table)
	}
	return table, nil
}

// SelectAll returns the full snapshot of a table, ordered by id for
// deterministic diffs and sheet write-backs.
func (s *Store) SelectAll(ctx context.Context, table string) ([]models.Row, error) {
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	if err := s.db.WithContext(ctx).Table(name).Order("id").Find(&raw).Error; err != nil {
		return nil, fmt.Errorf("select from %q: %w", table, err)
	}

	rows := make([]models.Row, len(raw))
	for i, r := range raw {
		row := models.Row(r)
		// Drivers may hand ids back as []byte; the diff engine keys on strings.
		if v, ok := row["id"]; ok && v != nil {
			if _, isStr := v.(string); !isStr {
				row["id"] = fmt.Sprint(v)
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// InsertMany inserts a batch of rows in one statement.
func (s *Store) InsertMany(ctx context.Context, table string, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	name, err := tableName(table)
	if err != nil {
		return err
	}

	payload := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		payload[i] = map[string]interface{}(r)
	}
	if err := s.db.WithContext(ctx).Table(name).Create(payload).Error; err != nil {
		return fmt.Errorf("insert into %q: %w", table, err)
	}
	return nil
}

// UpdateOne updates a single row by id with the given fields.
func (s *Store) UpdateOne(ctx context.Context, table, id string, fields models.Row) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Table(name).Where("id = ?", id).
		Updates(map[string]interface{}(fields))
	if res.Error != nil {
		return fmt.Errorf("update %q id=%s: %w", table, id, res.Error)
	}
	return nil
}

// DeleteMany removes rows by id.
func (s *Store) DeleteMany(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	name, err := tableName(table)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Exec("DELETE FROM "+name+" WHERE id IN ?", ids).Error; err != nil {
		return fmt.Errorf("delete from %q: %w", table, err)
	}
	return nil
}

// --- Mapping persistence (sync.MappingPersistence) ---

func (s *Store) LoadMappings(ctx context.Context) ([]models.SheetMapping, error) {
	var list []models.SheetMapping
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) SaveMapping(ctx context.Context, m models.SheetMapping) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
}

func (s *Store) DeleteMapping(ctx context.Context, sheetName string) error {
	return s.db.WithContext(ctx).
		Where("sheet_name = ?", sheetName).
		Delete(&models.SheetMapping{}).Error
}
