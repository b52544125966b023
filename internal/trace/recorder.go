// Package trace persists generated implementations and resolution events.
package trace

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/generator"
	"github.com/abramin/dynlink/internal/store"
	"github.com/abramin/dynlink/internal/typemodel"
)

// Recorder writes to a store. It implements generator.Sink and
// dispatch.Observer.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
}

var (
	_ generator.Sink    = (*Recorder)(nil)
	_ dispatch.Observer = (*Recorder)(nil)
)

// NewRecorder returns a recorder writing to st.
func NewRecorder(st *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: st, logger: logger}
}

// RecordImplementation stores one generated method.
func (r *Recorder) RecordImplementation(rec generator.ImplementationRecord) error {
	extra := make([]string, len(rec.ExtraArgs))
	for i, v := range rec.ExtraArgs {
		extra[i] = strconv.Itoa(v)
	}
	err := r.store.InsertImplementation(&store.Implementation{
		SiteID:    rec.SiteID,
		Impl:      rec.Impl,
		Interface: rec.Interface,
		Method:    rec.Method,
		Sig:       rec.Signature,
		Strategy:  rec.Strategy,
		Source:    rec.Source,
		ExtraArgs: strings.Join(extra, ","),
		Caller:    rec.Caller,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("recording implementation %s.%s: %w", rec.Impl, rec.Method, err)
	}
	return r.touch()
}

// Resolved stores a resolution event. Failures are logged, never returned
// to the resolving call.
func (r *Recorder) Resolved(ev dispatch.Event) {
	res := &store.Resolution{
		SiteID:   ev.Site,
		Method:   ev.Method,
		Receiver: ev.Receiver,
		ArgTypes: ev.ArgTypes,
		Kind:     ev.Kind.String(),
		Mode:     ev.Mode.String(),
		Selected: ev.Selected,
		Attempts: ev.Attempts,
		Outcome:  store.OutcomeResolved,
		Elapsed:  ev.Elapsed,
		At:       time.Now(),
	}
	if ev.Err != nil {
		res.Outcome = store.OutcomeFailed
		res.Error = ev.Err.Error()
	}
	if _, err := r.store.InsertResolution(res); err != nil {
		r.logger.Warn("recording resolution failed", "method", ev.Method, "site", ev.Site, "error", err)
	}
}

// RecordUniverse stores every non-builtin type and its methods in one batch.
func (r *Recorder) RecordUniverse(u *typemodel.Universe, origin store.Origin) error {
	batch, err := r.store.BeginBatch()
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	defer batch.Rollback()

	types := u.Types()
	for _, t := range types {
		if typemodel.IsBuiltin(t) {
			continue
		}
		if err := batch.InsertType(TypeRecord(t, origin)); err != nil {
			return fmt.Errorf("recording type %s: %w", t.Name(), err)
		}
	}
	for _, t := range types {
		if typemodel.IsBuiltin(t) {
			continue
		}
		for _, m := range t.Methods() {
			if err := batch.InsertMethod(MethodRecord(m)); err != nil {
				return fmt.Errorf("recording method %s: %w", m, err)
			}
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return r.touch()
}

func (r *Recorder) touch() error {
	return r.store.SetMetadata("updated_at", time.Now().UTC().Format(time.RFC3339))
}

// TypeRecord converts a model type to its stored form.
func TypeRecord(t *typemodel.Type, origin store.Origin) *store.TypeRecord {
	rec := &store.TypeRecord{
		Name:     t.Name(),
		Kind:     string(t.Kind()),
		Strategy: t.Strategy,
		Origin:   origin,
	}
	if s := t.Super(); s != nil {
		rec.Super = s.Name()
	}
	ifaces := t.Interfaces()
	names := make([]string, len(ifaces))
	for i, it := range ifaces {
		names[i] = it.Name()
	}
	rec.Interfaces = strings.Join(names, ",")
	if e := t.Enclosing(); e != nil {
		rec.Enclosing = e.Name()
	}
	return rec
}

// MethodRecord converts a model method to its stored form.
func MethodRecord(m *typemodel.Method) *store.MethodRecord {
	return &store.MethodRecord{
		Owner:    m.Owner.Name(),
		Name:     m.Name,
		Sig:      m.Sig.String(),
		Static:   m.Static,
		Private:  m.Private,
		Abstract: m.Abstract,
		Strategy: m.Annotations.Strategy,
	}
}
