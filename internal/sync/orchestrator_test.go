package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankroll-service/internal/schema"
	"bankroll-service/pkg/models"
)

type fakeSheets struct {
	mu       gosync.Mutex
	data     map[string]*models.SheetData
	written  map[string][][]interface{}
	cleared  map[string]bool
	writable bool
	readErr  error
}

func (f *fakeSheets) ListSheets(ctx context.Context) ([]models.SheetInfo, error) {
	var infos []models.SheetInfo
	for name := range f.data {
		infos = append(infos, models.SheetInfo{Title: name})
	}
	return infos, nil
}

func (f *fakeSheets) ReadRows(ctx context.Context, sheetName string) (*models.SheetData, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	d, ok := f.data[sheetName]
	if !ok {
		return &models.SheetData{Headers: []string{}, Rows: [][]string{}}, nil
	}
	return d, nil
}

func (f *fakeSheets) WriteRows(ctx context.Context, sheetName string, values [][]interface{}, clearFirst bool) (int, error) {
	if !f.writable {
		return 0, errors.New("not writable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.written == nil {
		f.written = map[string][][]interface{}{}
		f.cleared = map[string]bool{}
	}
	f.written[sheetName] = values
	f.cleared[sheetName] = clearFirst
	return len(values), nil
}

func (f *fakeSheets) CanWrite() bool { return f.writable }

type fakeDest struct {
	mu         gosync.Mutex
	tables     map[string][]models.Row
	updates    []string
	deletes    []string
	updateErr  map[string]error
	selectGate chan struct{}
	selectErr  error
}

func (f *fakeDest) SelectAll(ctx context.Context, table string) ([]models.Row, error) {
	if f.selectGate != nil {
		<-f.selectGate
	}
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Row, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (f *fakeDest) InsertMany(ctx context.Context, table string, rows []models.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables == nil {
		f.tables = map[string][]models.Row{}
	}
	f.tables[table] = append(f.tables[table], rows...)
	return nil
}

func (f *fakeDest) UpdateOne(ctx context.Context, table, id string, fields models.Row) error {
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id)
	return nil
}

func (f *fakeDest) DeleteMany(ctx context.Context, table string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ids...)
	return nil
}

func confirmedMapping(t *testing.T, sheet, table string, dir models.SyncDirection, headers []string) models.SheetMapping {
	t.Helper()
	m := models.SheetMapping{SheetName: sheet, TableName: table, Direction: dir, Enabled: true}
	require.NoError(t, m.SetColumns(schema.AutoDetect(headers, table)))
	return m
}

func newTestOrchestrator(t *testing.T, sheets *fakeSheets, dest *fakeDest, mappings ...models.SheetMapping) *Orchestrator {
	t.Helper()
	store, _ := newTestStore(t, mappings...)
	return NewOrchestrator(sheets, dest, store, nil)
}

var transacoesHeaders = []string{"Data", "Tipo", "Valor", "Descrição", "Banco"}

func TestPreviewEndToEnd(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: transacoesHeaders,
			Rows: [][]string{
				{"05/03/2024", "aporte", "1234,56", "Depósito inicial", "Banco X"},
			},
		},
	}}
	dest := &fakeDest{}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	preview, err := o.PreviewSheet(context.Background(), "Transações")
	require.NoError(t, err)
	require.Len(t, preview.ToAdd, 1)
	assert.Empty(t, preview.ToUpdate)
	assert.Empty(t, preview.ToDelete)
	assert.Empty(t, preview.Errors)

	got := preview.ToAdd[0]
	assert.Equal(t, "2024-03-05", got["data"])
	assert.Equal(t, "aporte", got["tipo"])
	assert.Equal(t, 1234.56, got["valor"])
	assert.Equal(t, "Depósito inicial", got["descricao"])
	assert.Equal(t, "Banco X", got["banco"])
	assert.NotEmpty(t, got.ID(), "id-less incoming row gets a fresh identifier")

	assert.False(t, o.Status().IsRunning)
}

func TestPreviewMappingRequired(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {Headers: transacoesHeaders, Rows: [][]string{}},
	}}
	o := newTestOrchestrator(t, sheets, &fakeDest{},
		models.SheetMapping{SheetName: "Transações", TableName: "transacoes", Direction: models.DirectionRead, Enabled: true})

	_, err := o.PreviewSheet(context.Background(), "Transações")
	var mre *MappingRequiredError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, "Transações", mre.SheetName)
	require.Len(t, mre.Detected, 5)
	for _, cm := range mre.Detected {
		assert.True(t, cm.Matched)
	}

	// Required user action, not a failure.
	st := o.Status()
	assert.False(t, st.IsRunning)
	assert.Empty(t, st.Errors)
}

func TestPreviewUnknownSheet(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSheets{}, &fakeDest{})
	_, err := o.PreviewSheet(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrMappingNotConfigured)
}

func TestPreviewTransportFailureRecorded(t *testing.T) {
	sheets := &fakeSheets{readErr: errors.New("network down")}
	o := newTestOrchestrator(t, sheets, &fakeDest{},
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	_, err := o.PreviewSheet(context.Background(), "Transações")
	require.Error(t, err)

	st := o.Status()
	assert.False(t, st.IsRunning, "isRunning must clear on every path")
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "network down")
}

func TestConfirmAppliesAndGatesDeletes(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: transacoesHeaders,
			Rows: [][]string{
				{"05/03/2024", "aporte", "100", "nova linha", "Banco X"},
			},
		},
	}}
	dest := &fakeDest{tables: map[string][]models.Row{
		"transacoes": {{"id": "stale", "data": "2024-01-01", "tipo": "saque", "valor": 5.0}},
	}}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	ctx := context.Background()
	preview, err := o.PreviewSheet(ctx, "Transações")
	require.NoError(t, err)
	require.Len(t, preview.ToDelete, 1)

	result, err := o.Confirm(ctx, preview.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 1, result.PendingDeletes, "deletes are reported, not executed, without opt-in")
	assert.Empty(t, dest.deletes)
	assert.Empty(t, result.Errors)

	// The preview is consumed exactly once.
	_, err = o.Confirm(ctx, preview.ID, false)
	assert.ErrorIs(t, err, ErrPreviewNotFound)
}

func TestConfirmAppliesDeletesWhenOptedIn(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {Headers: transacoesHeaders, Rows: [][]string{}},
	}}
	dest := &fakeDest{tables: map[string][]models.Row{
		"transacoes": {{"id": "gone", "valor": 1.0}},
	}}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	ctx := context.Background()
	preview, err := o.PreviewSheet(ctx, "Transações")
	require.NoError(t, err)

	result, err := o.Confirm(ctx, preview.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 0, result.PendingDeletes)
	assert.Equal(t, []string{"gone"}, dest.deletes)
}

func TestConfirmContinuesPastUpdateFailures(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: transacoesHeaders,
			Rows: [][]string{
				{"05/03/2024", "aporte", "1", "a", "X"},
				{"06/03/2024", "saque", "2", "b", "Y"},
			},
		},
	}}
	// Give both rows known ids by seeding the destination and mapping an id column.
	headers := append([]string{"Codigo"}, transacoesHeaders...)
	sheets.data["Transações"].Headers = headers
	sheets.data["Transações"].Rows = [][]string{
		{"A", "05/03/2024", "aporte", "1", "a", "X"},
		{"B", "06/03/2024", "saque", "2", "b", "Y"},
	}
	dest := &fakeDest{
		tables:    map[string][]models.Row{"transacoes": {{"id": "A"}, {"id": "B"}}},
		updateErr: map[string]error{"A": errors.New("constraint violation")},
	}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, headers))

	ctx := context.Background()
	preview, err := o.PreviewSheet(ctx, "Transações")
	require.NoError(t, err)
	require.Len(t, preview.ToUpdate, 2)

	result, err := o.Confirm(ctx, preview.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "constraint violation")
	assert.Equal(t, []string{"B"}, dest.updates, "remaining rows still attempted")
}

func TestCancelDiscardsPreview(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: transacoesHeaders,
			Rows:    [][]string{{"05/03/2024", "aporte", "1", "a", "X"}},
		},
	}}
	dest := &fakeDest{}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	ctx := context.Background()
	preview, err := o.PreviewSheet(ctx, "Transações")
	require.NoError(t, err)

	assert.True(t, o.Cancel(preview.ID))
	assert.False(t, o.Cancel(preview.ID), "cancel is single-shot")
	assert.Empty(t, dest.tables, "cancel writes nothing")

	_, err = o.Confirm(ctx, preview.ID, false)
	assert.ErrorIs(t, err, ErrPreviewNotFound)
}

func TestSingleFlightGuard(t *testing.T) {
	gate := make(chan struct{})
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {Headers: transacoesHeaders, Rows: [][]string{}},
	}}
	dest := &fakeDest{selectGate: gate}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	done := make(chan error, 1)
	go func() {
		_, err := o.PreviewSheet(context.Background(), "Transações")
		done <- err
	}()

	require.Eventually(t, func() bool { return o.Status().IsRunning }, time.Second, time.Millisecond)

	_, err := o.PreviewSheet(context.Background(), "Transações")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, o.Status().IsRunning)
}

func TestWriteSheetRequiresWriteCapability(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSheets{writable: false}, &fakeDest{},
		confirmedMapping(t, "Transações", "transacoes", models.DirectionWrite, transacoesHeaders))

	_, err := o.WriteSheet(context.Background(), "Transações")
	assert.ErrorIs(t, err, ErrWriteNotPermitted)
}

func TestWriteSheetClearsThenWrites(t *testing.T) {
	sheets := &fakeSheets{writable: true}
	dest := &fakeDest{tables: map[string][]models.Row{
		"transacoes": {
			{"id": "A", "data": "2024-03-05", "tipo": "aporte", "valor": 10.0, "descricao": "x", "banco": "B1"},
			{"id": "B", "data": "2024-03-06", "tipo": "saque", "valor": 2.0, "descricao": "y", "banco": "B2"},
		},
	}}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionWrite, transacoesHeaders))

	result, err := o.WriteSheet(context.Background(), "Transações")
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowsWritten, "header row + 2 data rows")
	assert.True(t, sheets.cleared["Transações"], "write-sync is clear-then-write")

	values := sheets.written["Transações"]
	require.Len(t, values, 3)
	// Headers keep the sheet's own spellings from the confirmed mapping.
	assert.Equal(t, "Data", values[0][0])
	assert.Equal(t, "2024-03-05", values[1][0])
}

func TestSyncAllHaltsOnMappingRequired(t *testing.T) {
	sheets := &fakeSheets{
		writable: true,
		data: map[string]*models.SheetData{
			"Prontas": {Headers: transacoesHeaders, Rows: [][]string{}},
		},
	}
	dest := &fakeDest{tables: map[string][]models.Row{"transacoes": {}}}

	ready := confirmedMapping(t, "Prontas", "transacoes", models.DirectionRead, transacoesHeaders)
	unconfigured := models.SheetMapping{SheetName: "Novas", TableName: "contas", Direction: models.DirectionRead, Enabled: true}
	o := newTestOrchestrator(t, sheets, dest, ready, unconfigured)

	results, err := o.SyncAll(context.Background())
	var mre *MappingRequiredError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, "Novas", mre.SheetName)
	assert.Len(t, results, 1, "batch returns partial results up to the halt")
	assert.False(t, o.Status().IsRunning)
}

func TestSyncAllSkipsDisabledAndContinuesPastAuthError(t *testing.T) {
	sheets := &fakeSheets{
		writable: false, // write mapping will hit the auth guard
		data: map[string]*models.SheetData{
			"Leitura": {Headers: transacoesHeaders, Rows: [][]string{{"05/03/2024", "aporte", "1", "a", "X"}}},
		},
	}
	dest := &fakeDest{}

	writeM := confirmedMapping(t, "Escrita", "contas", models.DirectionWrite, []string{"Nome"})
	readM := confirmedMapping(t, "Leitura", "transacoes", models.DirectionRead, transacoesHeaders)
	disabled := confirmedMapping(t, "Desativada", "metas", models.DirectionRead, []string{"Nome"})
	disabled.Enabled = false
	o := newTestOrchestrator(t, sheets, dest, writeM, readM, disabled)

	results, err := o.SyncAll(context.Background())
	require.NoError(t, err, "auth failure blocks the write phase only")
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Added)
	assert.Len(t, dest.tables["transacoes"], 1)
	assert.Empty(t, dest.tables["metas"])

	st := o.Status()
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "Escrita")
}

func TestUnattendedReadNeverDeletes(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Leitura": {Headers: transacoesHeaders, Rows: [][]string{}},
	}}
	dest := &fakeDest{tables: map[string][]models.Row{
		"transacoes": {{"id": "keep-me", "valor": 1.0}},
	}}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Leitura", "transacoes", models.DirectionRead, transacoesHeaders))

	results, err := o.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].PendingDeletes)
	assert.Empty(t, dest.deletes)
}

func TestBidirectionalWritesBackAfterApply(t *testing.T) {
	sheets := &fakeSheets{
		writable: true,
		data: map[string]*models.SheetData{
			"Duplex": {Headers: transacoesHeaders, Rows: [][]string{{"05/03/2024", "aporte", "1", "a", "X"}}},
		},
	}
	dest := &fakeDest{}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Duplex", "transacoes", models.DirectionBidirectional, transacoesHeaders))

	results, err := o.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Added)
	assert.NotEmpty(t, sheets.written["Duplex"], "sheet refreshed with canonical rows")
}

func TestAutoSyncTimer(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Leitura": {Headers: transacoesHeaders, Rows: [][]string{{"05/03/2024", "aporte", "1", "a", "X"}}},
	}}
	dest := &fakeDest{}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Leitura", "transacoes", models.DirectionRead, transacoesHeaders))

	o.StartAutoSync(10 * time.Millisecond)
	require.NotNil(t, o.Status().NextSync)

	assert.Eventually(t, func() bool {
		dest.mu.Lock()
		defer dest.mu.Unlock()
		return len(dest.tables["transacoes"]) > 0
	}, time.Second, 5*time.Millisecond)

	// Restarting replaces the previous timer; stopping twice is safe.
	o.StartAutoSync(time.Hour)
	o.StopAutoSync()
	o.StopAutoSync()
	assert.Nil(t, o.Status().NextSync)
}

func TestDuplicateIncomingIDLastWins(t *testing.T) {
	headers := append([]string{"Codigo"}, transacoesHeaders...)
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: headers,
			Rows: [][]string{
				{"X", "05/03/2024", "aporte", "1", "primeira", "B"},
				{"X", "06/03/2024", "saque", "2", "segunda", "B"},
			},
		},
	}}
	o := newTestOrchestrator(t, sheets, &fakeDest{},
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, headers))

	preview, err := o.PreviewSheet(context.Background(), "Transações")
	require.NoError(t, err)
	require.Len(t, preview.ToAdd, 1)
	assert.Equal(t, "segunda", preview.ToAdd[0]["descricao"])
	require.Len(t, preview.Warnings, 1)
	assert.Equal(t, 2, preview.Warnings[0].Row)
}

func TestConfirmWhileBusyKeepsPreview(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: transacoesHeaders,
			Rows:    [][]string{{"05/03/2024", "aporte", "1", "a", "X"}},
		},
	}}
	dest := &fakeDest{}
	o := newTestOrchestrator(t, sheets, dest,
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	ctx := context.Background()
	preview, err := o.PreviewSheet(ctx, "Transações")
	require.NoError(t, err)

	// Occupy the guard with a second, gated preview.
	gate := make(chan struct{})
	dest.selectGate = gate
	done := make(chan error, 1)
	go func() {
		_, err := o.PreviewSheet(ctx, "Transações")
		done <- err
	}()
	require.Eventually(t, func() bool { return o.Status().IsRunning }, time.Second, time.Millisecond)

	// A confirm rejected by the guard must leave the preview parked.
	_, err = o.Confirm(ctx, preview.ID, false)
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)

	// Retrying the same confirm now succeeds.
	result, err := o.Confirm(ctx, preview.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
}

func TestLastSyncStampsOnlyAfterApply(t *testing.T) {
	failing := newTestOrchestrator(t, &fakeSheets{readErr: errors.New("network down")}, &fakeDest{},
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))
	_, err := failing.PreviewSheet(context.Background(), "Transações")
	require.Error(t, err)
	assert.Nil(t, failing.Status().LastSync, "a failed run is not a sync")

	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: transacoesHeaders,
			Rows:    [][]string{{"05/03/2024", "aporte", "1", "a", "X"}},
		},
	}}
	o := newTestOrchestrator(t, sheets, &fakeDest{},
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	ctx := context.Background()
	preview, err := o.PreviewSheet(ctx, "Transações")
	require.NoError(t, err)
	assert.Nil(t, o.Status().LastSync, "a parked preview has not synced anything")

	_, err = o.Confirm(ctx, preview.ID, false)
	require.NoError(t, err)
	require.NotNil(t, o.Status().LastSync)
	assert.WithinDuration(t, time.Now().UTC(), *o.Status().LastSync, time.Minute)
}

func TestPreviewExcludesInvalidRowsButReportsThem(t *testing.T) {
	sheets := &fakeSheets{data: map[string]*models.SheetData{
		"Transações": {
			Headers: transacoesHeaders,
			Rows: [][]string{
				{"05/03/2024", "", "1", "sem tipo", "B"}, // tipo required
				{"06/03/2024", "aporte", "2", "ok", "B"},
			},
		},
	}}
	o := newTestOrchestrator(t, sheets, &fakeDest{},
		confirmedMapping(t, "Transações", "transacoes", models.DirectionRead, transacoesHeaders))

	preview, err := o.PreviewSheet(context.Background(), "Transações")
	require.NoError(t, err)
	assert.Len(t, preview.ToAdd, 1)
	require.Len(t, preview.Errors, 1)
	assert.Equal(t, 1, preview.Errors[0].Row)
	assert.Equal(t, "tipo", preview.Errors[0].Field)
}
