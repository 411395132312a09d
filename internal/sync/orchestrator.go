// internal/sync/orchestrator.go
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"bankroll-service/internal/schema"
	"bankroll-service/pkg/models"
)

var (
	// ErrSyncInProgress is returned when a sync is requested while another is
	// in flight. Overlapping syncs would race on the destination snapshot.
	ErrSyncInProgress = errors.New("a sync is already running")

	// ErrPreviewNotFound is returned when confirming or cancelling a preview
	// id that is unknown or already consumed.
	ErrPreviewNotFound = errors.New("preview not found or already consumed")

	// ErrWriteNotPermitted is returned when a write-sync is attempted without
	// write-capable spreadsheet credentials.
	ErrWriteNotPermitted = errors.New("spreadsheet credentials are not write-capable")

	// ErrMappingNotConfigured is returned for a sheet with no stored mapping.
	ErrMappingNotConfigured = errors.New("no mapping configured for sheet")
)

// MappingRequiredError signals the mandatory suspension point before a first
// sync: the sheet has no confirmed column mapping and a human must review the
// auto-detected proposal. It blocks that one sheet only.
type MappingRequiredError struct {
	SheetName string
	Detected  []models.ColumnMapping
}

func (e *MappingRequiredError) Error() string {
	return fmt.Sprintf("sheet %q requires a confirmed column mapping before syncing", e.SheetName)
}

// Spreadsheet is the consumed surface of the spreadsheet service.
type Spreadsheet interface {
	ListSheets(ctx context.Context) ([]models.SheetInfo, error)
	ReadRows(ctx context.Context, sheetName string) (*models.SheetData, error)
	WriteRows(ctx context.Context, sheetName string, values [][]interface{}, clearFirst bool) (int, error)
	CanWrite() bool
}

// Destination is the consumed surface of the relational store.
type Destination interface {
	SelectAll(ctx context.Context, table string) ([]models.Row, error)
	InsertMany(ctx context.Context, table string, rows []models.Row) error
	UpdateOne(ctx context.Context, table, id string, fields models.Row) error
	DeleteMany(ctx context.Context, table string, ids []string) error
}

// Archiver stores a pre-apply snapshot of the destination table so a
// full-replace apply can be audited afterwards. Optional collaborator.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, table string, rows []models.Row) (string, error)
}

// pendingApply is a computed preview parked at the confirmation gate.
type pendingApply struct {
	preview  *models.SyncPreview
	mapping  models.SheetMapping
	snapshot []models.Row
}

// Orchestrator drives a sheet/table pair through read → map → coerce →
// validate → diff → confirm → apply, and owns the auto-sync timer. One
// instance per running service; Close cancels the timer.
type Orchestrator struct {
	sheets   Spreadsheet
	dest     Destination
	mappings *MappingStore
	archiver Archiver

	mu      gosync.Mutex
	status  models.SyncStatus
	pending map[string]*pendingApply
	stopCh  chan struct{}
}

func NewOrchestrator(sheets Spreadsheet, dest Destination, mappings *MappingStore, archiver Archiver) *Orchestrator {
	return &Orchestrator{
		sheets:   sheets,
		dest:     dest,
		mappings: mappings,
		archiver: archiver,
		pending:  make(map[string]*pendingApply),
	}
}

// Close stops the auto-sync timer.
func (o *Orchestrator) Close() {
	o.StopAutoSync()
}

// Status returns a copy of the process-wide sync state.
func (o *Orchestrator) Status() models.SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.status
	st.Errors = append([]string(nil), o.status.Errors...)
	return st
}

// begin claims the single-flight guard.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.IsRunning {
		return ErrSyncInProgress
	}
	o.status.IsRunning = true
	return nil
}

// finish releases the guard after a sync that reached the destination and
// stamps LastSync. Row-level errors still count as completion. Every code path
// that passed begin must reach exactly one of finish or release — no path may
// leave IsRunning set.
func (o *Orchestrator) finish(errs ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.IsRunning = false
	now := time.Now().UTC()
	o.status.LastSync = &now
	o.appendErrorsLocked(errs)
}

// release frees the guard without stamping LastSync: failed runs and previews
// parked at the gate have not synced anything yet.
func (o *Orchestrator) release(errs ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.IsRunning = false
	o.appendErrorsLocked(errs)
}

func (o *Orchestrator) appendErrorsLocked(errs []string) {
	o.status.Errors = append(o.status.Errors, errs...)
	if n := len(o.status.Errors); n > 20 {
		o.status.Errors = o.status.Errors[n-20:]
	}
}

// PreviewSheet runs a single-sheet read-sync up to the confirmation gate and
// parks the resulting preview. A sheet whose stored mapping has no confirmed
// columns halts with MappingRequiredError carrying the auto-detected proposal.
func (o *Orchestrator) PreviewSheet(ctx context.Context, sheetName string) (*models.SyncPreview, error) {
	mapping, ok := o.mappings.Get(sheetName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMappingNotConfigured, sheetName)
	}

	if err := o.begin(); err != nil {
		return nil, err
	}

	preview, snapshot, err := o.computePreview(ctx, mapping)
	if err != nil {
		var mre *MappingRequiredError
		if errors.As(err, &mre) {
			// Required user action, not a failure — keep status clean.
			o.release()
		} else {
			o.release(fmt.Sprintf("%s: %v", sheetName, err))
		}
		return nil, err
	}

	o.mu.Lock()
	o.pending[preview.ID] = &pendingApply{preview: preview, mapping: mapping, snapshot: snapshot}
	o.mu.Unlock()
	o.release()

	log.Printf("🔍 [SYNC] Preview %s ready for %q: +%d ~%d -%d (%d error(s))",
		preview.ID, sheetName, len(preview.ToAdd), len(preview.ToUpdate), len(preview.ToDelete), len(preview.Errors))
	return preview, nil
}

// computePreview performs read → map → coerce → validate → diff. The caller
// must hold the single-flight guard.
func (o *Orchestrator) computePreview(ctx context.Context, mapping models.SheetMapping) (*models.SyncPreview, []models.Row, error) {
	data, err := o.sheets.ReadRows(ctx, mapping.SheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", mapping.SheetName, err)
	}

	cols := mapping.Columns()
	if len(cols) == 0 {
		return nil, nil, &MappingRequiredError{
			SheetName: mapping.SheetName,
			Detected:  schema.AutoDetect(data.Headers, mapping.TableName),
		}
	}

	existing, err := o.dest.SelectAll(ctx, mapping.TableName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read table %q: %w", mapping.TableName, err)
	}

	preview := &models.SyncPreview{
		ID:             uuid.NewString(),
		SheetName:      mapping.SheetName,
		TableName:      mapping.TableName,
		ColumnMappings: cols,
		CreatedAt:      time.Now().UTC(),
	}

	incoming := o.coerceRows(data, cols, mapping.TableName, preview)
	diff := BuildDiff(mapping.TableName, incoming, existing)
	preview.ToAdd = diff.ToAdd
	preview.ToUpdate = diff.ToUpdate
	preview.ToDelete = diff.ToDelete
	return preview, existing, nil
}

// coerceRows turns raw sheet cells into typed destination rows. Rows failing
// validation are excluded from the result and surfaced on the preview; when
// the sheet repeats an id, the last occurrence wins.
func (o *Orchestrator) coerceRows(data *models.SheetData, cols []models.ColumnMapping, table string, preview *models.SyncPreview) []models.Row {
	sch, known := schema.SchemaOf(table)

	headerIdx := make(map[string]int, len(data.Headers))
	for i, h := range data.Headers {
		headerIdx[h] = i
	}

	seenIDs := make(map[string]struct{})
	byID := make(map[string]int)
	var incoming []models.Row

	for i, raw := range data.Rows {
		row := models.Row{}
		for _, cm := range cols {
			if !cm.Matched {
				continue
			}
			idx, ok := headerIdx[cm.SourceHeader]
			var cell interface{}
			if ok && idx < len(raw) {
				cell = raw[idx]
			}
			ctype := schema.TypeString
			if known {
				if col, ok := sch.Column(cm.DestinationField); ok {
					ctype = col.Type
				}
			}
			row[cm.DestinationField] = schema.Coerce(cell, ctype)
		}

		res := schema.Validate(row, table, seenIDs)
		rowNum := i + 1
		for _, e := range res.Errors {
			e.Row = rowNum
			preview.Errors = append(preview.Errors, e)
		}
		for _, w := range res.Warnings {
			w.Row = rowNum
			preview.Warnings = append(preview.Warnings, w)
		}
		if !res.IsValid {
			continue
		}

		if id := row.ID(); id != "" {
			if prev, dup := byID[id]; dup {
				incoming[prev] = row
				continue
			}
			seenIDs[id] = struct{}{}
			byID[id] = len(incoming)
		}
		incoming = append(incoming, row)
	}
	return incoming
}

// Confirm applies a parked preview: toAdd as one batch insert, toUpdate one
// row at a time continuing past individual failures, toDelete only when the
// caller opted in. A confirm rejected by the single-flight guard leaves the
// preview parked so the caller can retry; an accepted confirm consumes it.
func (o *Orchestrator) Confirm(ctx context.Context, previewID string, applyDeletes bool) (*models.SyncResult, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	pa, ok := o.pending[previewID]
	if ok {
		delete(o.pending, previewID)
	}
	o.mu.Unlock()
	if !ok {
		o.release()
		return nil, ErrPreviewNotFound
	}

	result := o.apply(ctx, pa, applyDeletes)
	o.finish(result.Errors...)

	if err := o.mappings.TouchLastSync(ctx, pa.mapping.SheetName, time.Now()); err != nil {
		log.Printf("⚠️ [SYNC] Failed to record last sync for %q: %v", pa.mapping.SheetName, err)
	}
	log.Printf("✅ [SYNC] Applied %q → %q: +%d ~%d -%d (%d pending delete(s), %d error(s))",
		pa.mapping.SheetName, pa.mapping.TableName, result.Added, result.Updated, result.Deleted,
		result.PendingDeletes, len(result.Errors))

	// Bidirectional mappings refresh the sheet with the now-canonical rows so
	// server-computed derived values flow back.
	if pa.mapping.Direction == models.DirectionBidirectional {
		if wres, err := o.WriteSheet(ctx, pa.mapping.SheetName); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("write-back: %v", err))
		} else {
			result.RowsWritten = wres.RowsWritten
		}
	}
	return result, nil
}

// Cancel discards a parked preview. Synchronous and side-effect-free; nothing
// has been written yet. Returns false for an unknown id.
func (o *Orchestrator) Cancel(previewID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[previewID]; !ok {
		return false
	}
	delete(o.pending, previewID)
	return true
}

// apply mutates the destination. Row-level failures are collected, never
// thrown; a retry is safe because every write is keyed by id.
func (o *Orchestrator) apply(ctx context.Context, pa *pendingApply, applyDeletes bool) *models.SyncResult {
	p := pa.preview
	result := &models.SyncResult{
		Table:     p.TableName,
		SheetName: p.SheetName,
		Direction: pa.mapping.Direction,
		Errors:    []string{},
	}

	if o.archiver != nil && (len(p.ToUpdate) > 0 || len(p.ToDelete) > 0) {
		if key, err := o.archiver.ArchiveSnapshot(ctx, p.TableName, pa.snapshot); err != nil {
			log.Printf("⚠️ [ARCHIVE] Snapshot of %q failed: %v", p.TableName, err)
		} else {
			log.Printf("📦 [ARCHIVE] Snapshot of %q stored at %s", p.TableName, key)
		}
	}

	if len(p.ToAdd) > 0 {
		if err := o.dest.InsertMany(ctx, p.TableName, p.ToAdd); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("insert batch: %v", err))
		} else {
			result.Added = len(p.ToAdd)
		}
	}

	for _, row := range p.ToUpdate {
		id := row.ID()
		fields := row.Clone()
		delete(fields, "id")
		if err := o.dest.UpdateOne(ctx, p.TableName, id, fields); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("update %s: %v", id, err))
			continue
		}
		result.Updated++
	}

	if len(p.ToDelete) > 0 {
		if !applyDeletes {
			result.PendingDeletes = len(p.ToDelete)
		} else {
			ids := make([]string, 0, len(p.ToDelete))
			for _, row := range p.ToDelete {
				if id := row.ID(); id != "" {
					ids = append(ids, id)
				}
			}
			if err := o.dest.DeleteMany(ctx, p.TableName, ids); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("delete batch: %v", err))
			} else {
				result.Deleted = len(ids)
			}
		}
	}
	return result
}

// WriteSheet overwrites the target sheet wholesale with the current
// destination snapshot (clear-then-write). Fails fast without write-capable
// credentials; the read side of a bidirectional pair is unaffected.
func (o *Orchestrator) WriteSheet(ctx context.Context, sheetName string) (*models.SyncResult, error) {
	mapping, ok := o.mappings.Get(sheetName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMappingNotConfigured, sheetName)
	}
	if !o.sheets.CanWrite() {
		return nil, ErrWriteNotPermitted
	}

	if err := o.begin(); err != nil {
		return nil, err
	}
	res, err := o.writeSheetLocked(ctx, mapping)
	if err != nil {
		o.release(fmt.Sprintf("%s: %v", sheetName, err))
		return nil, err
	}
	o.finish()

	if err := o.mappings.TouchLastSync(ctx, sheetName, time.Now()); err != nil {
		log.Printf("⚠️ [SYNC] Failed to record last sync for %q: %v", sheetName, err)
	}
	log.Printf("📤 [SYNC] Wrote %d row(s) to sheet %q from %q", res.RowsWritten, sheetName, mapping.TableName)
	return res, nil
}

// writeColumns decides the sheet layout for a write-sync: the confirmed
// column mapping when one exists (sheet keeps its own header spellings),
// otherwise the schema's canonical column order, derived columns included.
func writeColumns(mapping models.SheetMapping) (headers, fields []string) {
	if cols := mapping.Columns(); len(cols) > 0 {
		for _, cm := range cols {
			if !cm.Matched {
				continue
			}
			headers = append(headers, cm.SourceHeader)
			fields = append(fields, cm.DestinationField)
		}
		if len(headers) > 0 {
			return headers, fields
		}
	}
	if sch, ok := schema.SchemaOf(mapping.TableName); ok {
		for _, c := range sch.Columns {
			headers = append(headers, c.Name)
			fields = append(fields, c.Name)
		}
	}
	return headers, fields
}

// SyncAll runs every enabled mapping in stored order. See SyncSelected.
func (o *Orchestrator) SyncAll(ctx context.Context) ([]models.SyncResult, error) {
	var names []string
	for _, m := range o.mappings.All() {
		if m.Enabled {
			names = append(names, m.SheetName)
		}
	}
	return o.SyncSelected(ctx, names)
}

// SyncSelected runs the named mappings in order. Write mappings run a
// write-sync; read/bidirectional mappings run an unattended read-sync that
// auto-confirms its preview without deletes. A read mapping with no confirmed
// columns halts the batch immediately, returning the results so far alongside
// a MappingRequiredError for that one sheet. Transport failures abort the
// whole batch the same way.
func (o *Orchestrator) SyncSelected(ctx context.Context, sheetNames []string) ([]models.SyncResult, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}

	var results []models.SyncResult
	var batchErrs []string

	for _, name := range sheetNames {
		mapping, ok := o.mappings.Get(name)
		if !ok {
			batchErrs = append(batchErrs, fmt.Sprintf("%s: no mapping configured", name))
			continue
		}

		if mapping.Direction == models.DirectionWrite {
			res, err := o.writeSheetLocked(ctx, mapping)
			if err != nil {
				if errors.Is(err, ErrWriteNotPermitted) {
					// Auth failure blocks the write phase only; keep going.
					batchErrs = append(batchErrs, fmt.Sprintf("%s: %v", name, err))
					continue
				}
				batchErrs = append(batchErrs, fmt.Sprintf("%s: %v", name, err))
				o.release(batchErrs...)
				return results, err
			}
			results = append(results, *res)
			continue
		}

		if len(mapping.Columns()) == 0 {
			o.release(batchErrs...)
			return results, &MappingRequiredError{SheetName: name}
		}

		res, err := o.runUnattendedRead(ctx, mapping)
		if err != nil {
			batchErrs = append(batchErrs, fmt.Sprintf("%s: %v", name, err))
			o.release(batchErrs...)
			return results, err
		}
		results = append(results, *res)
	}
	o.finish(batchErrs...)
	return results, nil
}

// runUnattendedRead is the timer/batch read-sync path: compute the preview and
// apply it immediately, deletes excluded — unattended operation never deletes.
func (o *Orchestrator) runUnattendedRead(ctx context.Context, mapping models.SheetMapping) (*models.SyncResult, error) {
	preview, snapshot, err := o.computePreview(ctx, mapping)
	if err != nil {
		return nil, err
	}
	pa := &pendingApply{preview: preview, mapping: mapping, snapshot: snapshot}
	result := o.apply(ctx, pa, false)

	if err := o.mappings.TouchLastSync(ctx, mapping.SheetName, time.Now()); err != nil {
		log.Printf("⚠️ [SYNC] Failed to record last sync for %q: %v", mapping.SheetName, err)
	}

	if mapping.Direction == models.DirectionBidirectional {
		if wres, err := o.writeSheetLocked(ctx, mapping); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("write-back: %v", err))
		} else {
			result.RowsWritten = wres.RowsWritten
		}
	}
	return result, nil
}

// writeSheetLocked is WriteSheet minus the single-flight guard, for callers
// already inside a batch.
func (o *Orchestrator) writeSheetLocked(ctx context.Context, mapping models.SheetMapping) (*models.SyncResult, error) {
	if !o.sheets.CanWrite() {
		return nil, ErrWriteNotPermitted
	}
	rows, err := o.dest.SelectAll(ctx, mapping.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %q: %w", mapping.TableName, err)
	}
	headers, fields := writeColumns(mapping)
	values := make([][]interface{}, 0, len(rows)+1)
	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	values = append(values, headerRow)
	for _, row := range rows {
		cells := make([]interface{}, len(fields))
		for i, f := range fields {
			if v, ok := row[f]; ok && v != nil {
				cells[i] = v
			} else {
				cells[i] = ""
			}
		}
		values = append(values, cells)
	}
	count, err := o.sheets.WriteRows(ctx, mapping.SheetName, values, true)
	if err != nil {
		return nil, fmt.Errorf("failed to write sheet %q: %w", mapping.SheetName, err)
	}
	return &models.SyncResult{
		Table:       mapping.TableName,
		SheetName:   mapping.SheetName,
		Direction:   models.DirectionWrite,
		RowsWritten: count,
		Errors:      []string{},
	}, nil
}

// StartAutoSync schedules SyncAll at a fixed interval. Starting again always
// replaces the previous timer; at most one is ever active.
func (o *Orchestrator) StartAutoSync(interval time.Duration) {
	o.StopAutoSync()

	o.mu.Lock()
	stopCh := make(chan struct{})
	o.stopCh = stopCh
	next := time.Now().UTC().Add(interval)
	o.status.NextSync = &next
	o.mu.Unlock()

	log.Printf("⏰ [AUTOSYNC] Scheduled every %s (next: %s)", interval, next.Format(time.RFC3339))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				results, err := o.SyncAll(context.Background())
				if err != nil {
					log.Printf("❌ [AUTOSYNC] Sync failed: %v", err)
				} else {
					log.Printf("✅ [AUTOSYNC] Synced %d mapping(s)", len(results))
				}
				o.mu.Lock()
				if o.stopCh == stopCh {
					n := time.Now().UTC().Add(interval)
					o.status.NextSync = &n
				}
				o.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

// StopAutoSync cancels the timer and clears the next-sync timestamp. Safe to
// call any number of times, including when no timer is active.
func (o *Orchestrator) StopAutoSync() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopCh != nil {
		close(o.stopCh)
		o.stopCh = nil
		log.Println("🛑 [AUTOSYNC] Stopped")
	}
	o.status.NextSync = nil
}
