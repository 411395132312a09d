package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Row is the untyped shape every incoming and destination record moves through
// before it reaches a typed table.
type Row map[string]interface{}

// ID returns the row identifier as a string, or "" when the row has none.
func (r Row) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy so derived-field stripping never mutates the
// caller's row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type SyncDirection string

const (
	DirectionRead          SyncDirection = "read"
	DirectionWrite         SyncDirection = "write"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// ColumnMapping links one spreadsheet header to one destination field.
// Matched=false entries are kept so a reviewer can complete the mapping by hand.
type ColumnMapping struct {
	SourceHeader     string `json:"source_header"`
	DestinationField string `json:"destination_field"`
	Matched          bool   `json:"matched"`
}

// SheetMapping is the persisted configuration unit the orchestrator iterates
// over — one per spreadsheet tab, keyed by sheet name.
type SheetMapping struct {
	SheetName      string         `json:"sheet_name" gorm:"primaryKey;type:varchar(255)"`
	TableName      string         `json:"table_name" gorm:"type:varchar(100);not null"`
	Direction      SyncDirection  `json:"direction" gorm:"type:varchar(20);not null;default:'read'"`
	Enabled        bool           `json:"enabled" gorm:"not null;default:true"`
	ColumnMappings datatypes.JSON `json:"column_mappings" gorm:"type:jsonb"`
	LastSyncAt     *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Columns decodes the persisted jsonb mapping list. A missing or malformed
// value decodes to nil, which callers treat as "no confirmed mapping yet".
func (m *SheetMapping) Columns() []ColumnMapping {
	if len(m.ColumnMappings) == 0 {
		return nil
	}
	var cols []ColumnMapping
	if err := json.Unmarshal(m.ColumnMappings, &cols); err != nil {
		return nil
	}
	return cols
}

// SetColumns replaces the whole mapping list. Per-column merging is not
// supported; the stored value is always the full list.
func (m *SheetMapping) SetColumns(cols []ColumnMapping) error {
	b, err := json.Marshal(cols)
	if err != nil {
		return err
	}
	m.ColumnMappings = datatypes.JSON(b)
	return nil
}

// RowError is one row-level validation or write problem, indexed by the
// 1-based data row it came from (0 when no single row applies).
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// SyncPreview is the ephemeral result of read → map → coerce → validate → diff,
// held in memory until the caller confirms or cancels it. Never persisted.
type SyncPreview struct {
	ID             string          `json:"id"`
	SheetName      string          `json:"sheet_name"`
	TableName      string          `json:"table_name"`
	ColumnMappings []ColumnMapping `json:"column_mappings"`
	ToAdd          []Row           `json:"to_add"`
	ToUpdate       []Row           `json:"to_update"`
	ToDelete       []Row           `json:"to_delete"`
	Errors         []RowError      `json:"errors"`
	Warnings       []RowError      `json:"warnings"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SyncResult reports one completed apply (or write-sync) phase.
type SyncResult struct {
	Table          string        `json:"table"`
	SheetName      string        `json:"sheet_name"`
	Direction      SyncDirection `json:"direction"`
	Added          int           `json:"added"`
	Updated        int           `json:"updated"`
	Deleted        int           `json:"deleted"`
	PendingDeletes int           `json:"pending_deletes"`
	RowsWritten    int           `json:"rows_written,omitempty"`
	Errors         []string      `json:"errors"`
}

// SyncStatus is the single process-wide view of the engine, read by any
// caller, mutated only by the orchestrator.
type SyncStatus struct {
	IsRunning bool       `json:"is_running"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	NextSync  *time.Time `json:"next_sync,omitempty"`
	Errors    []string   `json:"errors"`
}

// SheetInfo describes one tab of the configured spreadsheet.
type SheetInfo struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	RowCount int64  `json:"row_count"`
	ColCount int64  `json:"col_count"`
}

// SheetData is the tabular read shape: first spreadsheet row as headers,
// remaining rows as cell text.
type SheetData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}
