package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/roach88/liveview/internal/crud"
	"github.com/roach88/liveview/internal/db"
	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/host"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/schema"
	"github.com/roach88/liveview/internal/testutil"
	"github.com/roach88/liveview/internal/transport"
	"github.com/roach88/liveview/internal/undo"
	"github.com/roach88/liveview/internal/view"
)

// Harness is one scenario's stack. The main actor's mutations go through
// the crud helpers and are undoable; the external actor stands in for
// another user on the same store.
type Harness struct {
	host     *host.Host
	conn     *host.Conn
	db       *db.DB
	external *db.DB
	cache    *view.Cache
	history  *undo.Manager
	crud     *crud.Helpers
	logger   *slog.Logger

	notices *noticeLog
	views   map[string]*namedView
	order   []string
}

type namedView struct {
	view        *view.TableView
	unsubscribe func()

	mu     sync.Mutex
	events []string
}

func (nv *namedView) record(e view.ViewEvent) {
	nv.mu.Lock()
	defer nv.mu.Unlock()
	nv.events = append(nv.events, formatViewEvent(e))
}

func (nv *namedView) take() []string {
	nv.mu.Lock()
	defer nv.mu.Unlock()
	out := nv.events
	nv.events = nil
	return out
}

// noticeLog is the undo.Notifier the harness installs.
type noticeLog struct {
	mu      sync.Mutex
	notices []string
}

func (l *noticeLog) Info(message string) {
	l.add(message)
}

func (l *noticeLog) Warning(message, detail string) {
	if detail != "" {
		message += ": " + detail
	}
	l.add(message)
}

func (l *noticeLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, s)
}

func (l *noticeLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.notices
	l.notices = nil
	return out
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	undoLimit     int
	storePath     string
	defaultSchema string
}

// WithLogger sets the logger for the stack. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithUndoLimit caps the undo history.
func WithUndoLimit(n int) Option {
	return func(o *options) {
		o.undoLimit = n
	}
}

// WithStorePath runs the scenario against a new SQLite file at path, left
// in place afterwards for inspection. The file must not exist.
func WithStorePath(path string) Option {
	return func(o *options) {
		o.storePath = path
	}
}

// WithDefaultSchema sets the catalog for scenarios that name none. Empty
// means the built-in catalog.
func WithDefaultSchema(path string) Option {
	return func(o *options) {
		o.defaultSchema = path
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store with a deterministic
// clock. Execution flow:
//  1. Build the catalog and open the store with two connections
//  2. Seed tables and open the named views
//  3. Run the flow, comparing each step's error with its expectation
//  4. Evaluate assertions against the final state
//
// Step failures and failed assertions are recorded in the result. The
// returned error is reserved for scenarios that cannot run at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		undoLimit: undo.DefaultLimit,
		storePath: ":memory:",
	}
	for _, opt := range opts {
		opt(&o)
	}

	catalog := schema.Default()
	if path := cmp.Or(scenario.Schema, o.defaultSchema); path != "" {
		c, err := schema.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		catalog = c
	}
	if o.storePath != ":memory:" {
		if _, err := os.Stat(o.storePath); err == nil {
			return nil, fmt.Errorf("store %s already exists", o.storePath)
		}
	}

	h, err := open(catalog, o)
	if err != nil {
		return nil, err
	}
	defer h.close()

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.openViews(ctx, scenario.Views); err != nil {
		return nil, fmt.Errorf("failed to open views: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func open(catalog *ir.Catalog, o options) (*Harness, error) {
	logger := o.logger
	hst, err := host.Open(o.storePath, catalog, host.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	conn, err := hst.Connect()
	if err != nil {
		hst.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	other, err := hst.Connect()
	if err != nil {
		hst.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	d := db.New(conn, db.WithCatalog(catalog), db.WithLogger(logger))
	cache := view.NewCache(d, view.WithLogger(logger))
	notices := &noticeLog{}
	history := undo.NewManager(
		undo.WithLimit(o.undoLimit),
		undo.WithClock(testutil.NewDeterministicClock()),
		undo.WithConnected(cache.Connected),
		undo.WithNotifier(notices),
		undo.WithLogger(logger),
	)

	return &Harness{
		host:     hst,
		conn:     conn,
		db:       d,
		external: db.New(other, db.WithCatalog(catalog), db.WithLogger(logger)),
		cache:    cache,
		history:  history,
		crud:     crud.New(d, history),
		logger:   logger,
		notices:  notices,
		views:    make(map[string]*namedView),
	}, nil
}

func (h *Harness) close() {
	for _, nv := range h.views {
		nv.unsubscribe()
	}
	h.host.Close()
}

func (h *Harness) executeSetup(ctx context.Context, seeds []SeedStep) error {
	for i, seed := range seeds {
		rows, err := toRows(seed.Rows)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if _, err := h.db.CreateRows(ctx, seed.Table, rows); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	_, err := h.pump(ctx)
	return err
}

func (h *Harness) openViews(ctx context.Context, specs []ViewSpec) error {
	for _, spec := range specs {
		f := filter.MatchAll()
		if spec.Filter != nil {
			parsed, err := parseFilter(spec.Filter)
			if err != nil {
				return fmt.Errorf("view %s: %w", spec.Name, err)
			}
			f = parsed
		}
		v, err := h.cache.FetchTable(ctx, spec.Table, f)
		if err != nil {
			return fmt.Errorf("view %s: %w", spec.Name, err)
		}
		nv := &namedView{view: v}
		nv.unsubscribe = v.Subscribe(nv.record)
		h.views[spec.Name] = nv
		h.order = append(h.order, spec.Name)
	}
	return nil
}

func (h *Harness) executeFlow(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		stepErr := h.execute(ctx, step)
		var bad *inputError
		if errors.As(stepErr, &bad) {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Op, bad.err)
		}
		notifications, err := h.pump(ctx)
		if err != nil {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Op, err)
		}

		code := errorCode(stepErr)
		switch {
		case step.Expect == "" && stepErr != nil:
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, stepErr))
		case step.Expect != code:
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error %q, got %q", i, step.Op, step.Expect, code))
		}

		result.Trace = append(result.Trace, h.traceEvent(int64(i+1), step, code, notifications))
	}
	return nil
}

// inputError marks a step whose scenario data could not be converted. It
// aborts the run instead of being compared with the step's expectation.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }

// execute runs one step and returns its outcome.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Op {
	case OpCreate:
		rows, err := toRows(step.Rows)
		if err != nil {
			return &inputError{err}
		}
		_, err = h.crud.CreateMany(ctx, step.Table, rows, describe(step))
		return err

	case OpCreateOne:
		row, err := toRow(step.Rows[0])
		if err != nil {
			return &inputError{err}
		}
		_, stepErr := h.crud.CreateOne(ctx, step.Table, row, describe(step))
		return stepErr

	case OpUpdate:
		changes, err := toRows(step.Rows)
		if err != nil {
			return &inputError{err}
		}
		old, updated, stepErr := merge(ctx, h.db, step.Table, changes)
		if stepErr != nil {
			return stepErr
		}
		_, stepErr = h.crud.UpdateMany(ctx, step.Table, old, updated, describe(step))
		return stepErr

	case OpPatch:
		patch, err := toValues(step.Set)
		if err != nil {
			return &inputError{err}
		}
		current, stepErr := h.db.SelectByID(ctx, step.Table, step.ID)
		if stepErr != nil {
			return stepErr
		}
		old := make(map[string]ir.Value, len(patch))
		for name := range patch {
			old[name] = current.Get(name)
		}
		_, stepErr = h.crud.UpdatePartial(ctx, step.Table, step.ID, old, patch, describe(step))
		return stepErr

	case OpDelete:
		return h.crud.DeleteMany(ctx, step.Table, step.IDs, describe(step))

	case OpUndo:
		return h.history.Undo(ctx)

	case OpRedo:
		return h.history.Redo(ctx)

	case OpClearHistory:
		h.history.ClearHistory()
		return nil

	case OpExternalCreate:
		rows, err := toRows(step.Rows)
		if err != nil {
			return &inputError{err}
		}
		_, stepErr := h.external.CreateRows(ctx, step.Table, rows)
		return stepErr

	case OpExternalUpdate:
		changes, err := toRows(step.Rows)
		if err != nil {
			return &inputError{err}
		}
		_, updated, stepErr := merge(ctx, h.external, step.Table, changes)
		if stepErr != nil {
			return stepErr
		}
		_, stepErr = h.external.UpdateRows(ctx, step.Table, updated)
		return stepErr

	case OpExternalDelete:
		return h.external.DeleteMany(ctx, step.Table, step.IDs)

	case OpClearColumn:
		f := filter.MatchAll()
		if step.Where != nil {
			parsed, err := parseFilter(map[string]any{"where": step.Where})
			if err != nil {
				return &inputError{err}
			}
			f = parsed
		}
		_, stepErr := h.db.ClearColumnWhere(ctx, step.Table, step.Column, f)
		return stepErr

	case OpDisconnect:
		return h.cache.SetConnected(ctx, false)

	case OpReconnect:
		return h.cache.SetConnected(ctx, true)

	case OpRelease:
		nv, ok := h.views[step.View]
		if !ok {
			return &inputError{fmt.Errorf("unknown view %q", step.View)}
		}
		stepErr := h.cache.Release(nv.view)
		if stepErr == nil {
			nv.unsubscribe()
			delete(h.views, step.View)
			h.order = slices.DeleteFunc(h.order, func(name string) bool { return name == step.View })
		}
		return stepErr

	default:
		return &inputError{fmt.Errorf("unknown op %q", step.Op)}
	}
}

// pump delivers every queued notification to the cache and returns them
// formatted for the trace. Notifications the cache rejects are logged.
func (h *Harness) pump(ctx context.Context) ([]string, error) {
	stream := h.conn.Notifications()
	out := []string{}
	for h.conn.Pending() > 0 {
		n, err := stream.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, formatNotification(n))
		if err := h.cache.Apply(ctx, n); err != nil {
			h.logger.Warn("notification not applied", "seq", n.Seq, "table", n.Table, "error", err)
		}
	}
	return out, nil
}

func (h *Harness) traceEvent(seq int64, step Step, code string, notifications []string) TraceEvent {
	ev := TraceEvent{
		Seq:           seq,
		Op:            step.Op,
		Table:         step.Table,
		Description:   step.Description,
		Error:         code,
		Notifications: notifications,
		Notices:       h.notices.take(),
		Views:         make(map[string][]int64, len(h.views)),
	}
	for _, name := range h.order {
		nv := h.views[name]
		if events := nv.take(); len(events) > 0 {
			if ev.Events == nil {
				ev.Events = make(map[string][]string)
			}
			ev.Events[name] = events
		}
		ids, err := nv.view.IDs()
		if err != nil || ids == nil {
			ids = []int64{}
		}
		ev.Views[name] = slices.Clone(ids)
	}
	state := h.history.State()
	ev.UndoCount = state.UndoCount
	ev.RedoCount = state.RedoCount
	return ev
}

// merge reads the current rows for changes and overlays them. It returns
// the rows before and after in the order given.
func merge(ctx context.Context, d *db.DB, table string, changes []ir.Row) (old, updated []ir.Row, err error) {
	for _, c := range changes {
		current, err := d.SelectByID(ctx, table, c.ID)
		if err != nil {
			return nil, nil, err
		}
		old = append(old, current)
		updated = append(updated, current.With(c.Values))
	}
	return old, updated, nil
}

func describe(step Step) string {
	if step.Description != "" {
		return step.Description
	}
	return step.Op + " " + step.Table
}

func toRows(in []map[string]any) ([]ir.Row, error) {
	rows := make([]ir.Row, len(in))
	for i, m := range in {
		r, err := toRow(m)
		if err != nil {
			return nil, fmt.Errorf("rows[%d]: %w", i, err)
		}
		rows[i] = r
	}
	return rows, nil
}

// toRow converts a YAML mapping into a row. An "id" key sets the row id.
func toRow(m map[string]any) (ir.Row, error) {
	values, err := toValues(m)
	if err != nil {
		return ir.Row{}, err
	}
	var id int64
	if v, ok := values["id"]; ok {
		n, ok := v.(ir.Int)
		if !ok {
			return ir.Row{}, fmt.Errorf("id must be an integer, got %T", v)
		}
		id = int64(n)
		delete(values, "id")
	}
	return ir.NewRow(id, values), nil
}

func toValues(m map[string]any) (map[string]ir.Value, error) {
	out := make(map[string]ir.Value, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v, err := ir.FromGo(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func parseFilter(m map[string]any) (filter.Filter, error) {
	v, err := ir.FromGo(m)
	if err != nil {
		return filter.Filter{}, err
	}
	return filter.Decode(v.(ir.Object))
}

func formatNotification(n transport.Notification) string {
	if n.Change == transport.Alter {
		return fmt.Sprintf("%s %s", n.Change, n.Table)
	}
	return fmt.Sprintf("%s %s/%d", n.Change, n.Table, n.Row.ID)
}

func formatViewEvent(e view.ViewEvent) string {
	switch e.Kind {
	case view.RowInserted:
		return fmt.Sprintf("inserted %d at %d", e.ID, e.Index)
	case view.RowRemoved:
		return fmt.Sprintf("removed %d at %d", e.ID, e.Index)
	case view.RowMoved:
		return fmt.Sprintf("moved %d from %d to %d", e.ID, e.From, e.Index)
	default:
		return e.Kind.String()
	}
}

// errorCode names err for traces and expectations: the sentinel for
// refused undo/redo calls, "SKIPPED:<code>" for an undo or redo whose
// action failed, otherwise the dberr code.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, undo.ErrNotConnected):
		return "NOT_CONNECTED"
	case errors.Is(err, undo.ErrBusy):
		return "BUSY"
	case errors.Is(err, undo.ErrNothingToUndo):
		return "NOTHING_TO_UNDO"
	case errors.Is(err, undo.ErrNothingToRedo):
		return "NOTHING_TO_REDO"
	}
	code := string(dberr.CodeOf(err))
	if code == "" {
		code = "ERROR"
	}
	var skipped *undo.SkippedError
	if errors.As(err, &skipped) {
		return "SKIPPED:" + code
	}
	return code
}
