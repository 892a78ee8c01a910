// Package docservice keeps one editor session per open document and connects
// it to storage, the journal and the event broker.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/checksum"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/journal"
	"github.com/starford/blockpatch/internal/models"
	"github.com/starford/blockpatch/internal/parser"
	"github.com/starford/blockpatch/internal/patch"
	"github.com/starford/blockpatch/internal/reconcile"
	"github.com/starford/blockpatch/internal/session"
	"github.com/starford/blockpatch/internal/sse"
	"github.com/starford/blockpatch/internal/storage"
	"github.com/starford/blockpatch/internal/validate"
	"github.com/starford/blockpatch/internal/watcher"
)

// DocumentDetail is the full representation of an open document.
type DocumentDetail struct {
	ID        string         `json:"id"`
	Revision  int64          `json:"revision"`
	Value     document.Value `json:"value"`
	Selection *editor.Range  `json:"selection,omitempty"`
	CanUndo   bool           `json:"can_undo"`
	CanRedo   bool           `json:"can_redo"`
	ReadOnly  bool           `json:"read_only"`
	SyncState string         `json:"sync_state"`
	Summary   parser.Summary `json:"summary"`
	Checksum  string         `json:"checksum"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DocumentListItem is a lightweight item in a list response.
type DocumentListItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Revision  int64     `json:"revision"`
	Checksum  string    `json:"checksum"`
	Open      bool      `json:"open"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvalidValueInfo describes a value that failed validation.
type InvalidValueInfo struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	BlockKey    string `json:"block_key"`
	Description string `json:"description"`
	Action      string `json:"action,omitempty"`
	AutoResolve bool   `json:"auto_resolve"`
}

// Publisher receives the events the service emits. *sse.Broker implements it.
type Publisher interface {
	Publish(sse.Event)
	PublishDocumentEvent(kind, id string)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithPublisher relays session and file events.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithSchema sets the schema of every document.
func WithSchema(sc *document.Schema) Option { return func(s *Service) { s.schema = sc } }

// WithSessionOptions adds options applied to every session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Service) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// Service coordinates sessions, storage and the journal.
type Service struct {
	store       storage.Provider
	db          journal.Journal
	pub         Publisher
	log         *slog.Logger
	schema      *document.Schema
	sessionOpts []session.Option

	mu       sync.Mutex
	sessions map[string]*session.Session

	// invalid tracks documents whose authoritative value failed validation.
	// Their editor value is incomplete and is not written back.
	invalidMu sync.Mutex
	invalid   map[string]validity
}

type validity struct {
	pass     bool
	lastPass bool
}

// NewService creates a document service.
func NewService(store storage.Provider, db journal.Journal, opts ...Option) *Service {
	s := &Service{
		store:    store,
		db:       db,
		log:      slog.Default(),
		schema:   document.DefaultSchema(),
		sessions: make(map[string]*session.Session),
		invalid:  make(map[string]validity),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes every open session.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
}

// open returns the session of id, loading the document on first use.
func (s *Service) open(ctx context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	v, _, err := storage.Load(s.store, id)
	if err != nil {
		return nil, err
	}
	opts := append([]session.Option{
		session.WithLogger(s.log),
		session.WithSchema(s.schema),
		session.WithJournal(s.db),
		session.WithSink(s.sink),
	}, s.sessionOpts...)
	sess := session.New(id, opts...)
	if err := sess.UpdateValue(ctx, v); err != nil {
		sess.Close()
		return nil, err
	}
	s.sessions[id] = sess
	s.log.Debug("session opened", slog.String("doc", id), slog.String("session", sess.ID))
	return sess, nil
}

// lookup returns the session of id if one is open.
func (s *Service) lookup(id string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Service) drop(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.Close()
	}
	s.invalidMu.Lock()
	delete(s.invalid, id)
	s.invalidMu.Unlock()
}

// sink runs on a session loop. It must not take s.mu, which open holds while
// waiting on the loop.
func (s *Service) sink(ev session.Event) {
	switch ev.Type {
	case session.EventPatches:
		if ev.Value != nil && s.writable(ev.DocID, false) {
			s.persist(ev.DocID, ev.Value)
		}
		s.publish(sse.TypePatches, ev.DocID, map[string]any{"id": ev.DocID, "patches": ev.Patches})
	case session.EventValue:
		if s.writable(ev.DocID, true) {
			s.persist(ev.DocID, ev.Value)
		}
		s.publish(sse.TypeValue, ev.DocID, map[string]any{"id": ev.DocID, "value": ev.Value})
	case session.EventInvalidValue:
		s.markInvalid(ev.DocID)
		s.publish(sse.TypeInvalidValue, ev.DocID, invalidInfo(ev.DocID, ev.Invalid))
	case session.EventSynced:
		s.endPass(ev.DocID)
		s.publish(sse.TypeSynced, ev.DocID, map[string]string{"id": ev.DocID})
	case session.EventHistoryCleared:
		s.publish(sse.TypeHistoryCleared, ev.DocID, map[string]string{"id": ev.DocID})
	}
}

// markInvalid records that the running sync pass of id hit an invalid block.
func (s *Service) markInvalid(id string) {
	s.invalidMu.Lock()
	defer s.invalidMu.Unlock()
	v := s.invalid[id]
	v.pass = true
	s.invalid[id] = v
}

// endPass closes the sync pass of id.
func (s *Service) endPass(id string) {
	s.invalidMu.Lock()
	defer s.invalidMu.Unlock()
	v := s.invalid[id]
	v.lastPass, v.pass = v.pass, false
	s.invalid[id] = v
}

// writable reports whether the editor value of id may replace the stored
// one. A sync pass that hit an invalid block leaves a partial value; so does
// an earlier pass when inPass is false.
func (s *Service) writable(id string, inPass bool) bool {
	s.invalidMu.Lock()
	v := s.invalid[id]
	s.invalidMu.Unlock()
	if inPass {
		return !v.pass
	}
	return !v.pass && !v.lastPass
}

func invalidInfo(id string, iv *reconcile.InvalidValue) InvalidValueInfo {
	info := InvalidValueInfo{ID: id}
	if iv == nil {
		return info
	}
	info.Index = iv.Index
	info.BlockKey = iv.Block.Key
	if r := iv.Resolution; r != nil {
		info.Description = r.Description
		info.Action = r.Action
		info.AutoResolve = r.AutoResolve
	}
	return info
}

func (s *Service) publish(typ, id string, data any) {
	if s.pub != nil {
		s.pub.Publish(sse.Event{Type: typ, DocID: id, Data: data})
	}
}

// persist records v in the journal before writing the file, so the watcher
// recognizes the write as ours.
func (s *Service) persist(id string, v document.Value) {
	if _, err := s.db.SaveValue(context.Background(), id, v); err != nil {
		s.log.Warn("persist: journal failed", slog.String("doc", id), slog.String("error", err.Error()))
		return
	}
	if _, err := storage.Save(s.store, id, v); err != nil {
		s.log.Warn("persist: write failed", slog.String("doc", id), slog.String("error", err.Error()))
	}
}

// checkValue validates every block of v against the schema.
func (s *Service) checkValue(v document.Value) error {
	for i, b := range v {
		res := validate.ValidateBlock(s.schema, b, i)
		if !res.Valid {
			return fmt.Errorf("block %d: %s: %w", i, res.Resolution.Description, apperr.ErrInvalidValue)
		}
	}
	return nil
}

// ListDocuments returns every stored document.
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentListItem, error) {
	metas, err := s.store.List()
	if err != nil {
		return nil, err
	}
	items := make([]DocumentListItem, 0, len(metas))
	for _, m := range metas {
		item := DocumentListItem{ID: m.ID, Checksum: m.Checksum, UpdatedAt: m.UpdatedAt}
		if row, v, err := s.db.Document(ctx, m.ID); err == nil {
			item.Revision = row.Revision
			item.Title = parser.Summarize(v).Title
		}
		_, item.Open = s.lookup(m.ID)
		items = append(items, item)
	}
	return items, nil
}

// GetDocument opens the document if needed and returns its current state.
func (s *Service) GetDocument(ctx context.Context, id string) (*DocumentDetail, error) {
	sess, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, id, sess)
}

func (s *Service) detail(ctx context.Context, id string, sess *session.Session) (*DocumentDetail, error) {
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	d := &DocumentDetail{
		ID:        id,
		Value:     snap.Value,
		Selection: snap.Selection,
		CanUndo:   snap.CanUndo,
		CanRedo:   snap.CanRedo,
		ReadOnly:  snap.ReadOnly,
		SyncState: snap.SyncState.String(),
		Summary:   parser.Summarize(snap.Value),
	}
	if row, _, err := s.db.Document(ctx, id); err == nil {
		d.Revision = row.Revision
		d.Checksum = row.Checksum
		d.UpdatedAt = row.UpdatedAt
	}
	return d, nil
}

// CreateDocument stores a new document and opens it.
func (s *Service) CreateDocument(ctx context.Context, id string, v document.Value) (*DocumentDetail, error) {
	if _, err := s.store.Read(id); err == nil {
		return nil, apperr.ErrAlreadyExists
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err := s.checkValue(v); err != nil {
		return nil, err
	}
	if _, err := s.db.SaveValue(ctx, id, v); err != nil {
		return nil, err
	}
	if _, err := storage.Save(s.store, id, v); err != nil {
		return nil, err
	}
	if s.pub != nil {
		s.pub.PublishDocumentEvent(watcher.Created, id)
	}
	return s.GetDocument(ctx, id)
}

// ReplaceValue makes v the authoritative value of id. ifMatch, when set,
// must equal the checksum of the stored file.
func (s *Service) ReplaceValue(ctx context.Context, id string, v document.Value, ifMatch string) (*DocumentDetail, error) {
	_, cs, err := storage.Load(s.store, id)
	if err != nil {
		return nil, err
	}
	if !checksum.Match(ifMatch, cs) {
		return nil, apperr.ErrConflict
	}
	sess, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	s.persist(id, v)
	if err := sess.UpdateValue(ctx, v); err != nil {
		return nil, err
	}
	return s.detail(ctx, id, sess)
}

// ApplyOperations applies local editor operations.
func (s *Service) ApplyOperations(ctx context.Context, id string, ops []editor.Operation) (*DocumentDetail, error) {
	sess, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.Apply(ctx, ops); err != nil {
		return nil, err
	}
	return s.detail(ctx, id, sess)
}

// ApplyPatches applies patches received from another writer. It reports
// whether the document changed.
func (s *Service) ApplyPatches(ctx context.Context, id string, ps []patch.Patch) (bool, error) {
	sess, err := s.open(ctx, id)
	if err != nil {
		return false, err
	}
	return sess.ApplyPatches(ctx, ps)
}

// Undo reverts the newest local step of id.
func (s *Service) Undo(ctx context.Context, id string) (*DocumentDetail, error) {
	return s.history(ctx, id, (*session.Session).Undo)
}

// Redo reapplies the newest undone step of id.
func (s *Service) Redo(ctx context.Context, id string) (*DocumentDetail, error) {
	return s.history(ctx, id, (*session.Session).Redo)
}

func (s *Service) history(ctx context.Context, id string, fn func(*session.Session, context.Context) error) (*DocumentDetail, error) {
	sess, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess, ctx); err != nil {
		return nil, err
	}
	return s.detail(ctx, id, sess)
}

// Select moves the selection of id.
func (s *Service) Select(ctx context.Context, id string, r *editor.Range) error {
	sess, err := s.open(ctx, id)
	if err != nil {
		return err
	}
	return sess.Select(ctx, r)
}

// SetReadOnly switches read-only mode of id.
func (s *Service) SetReadOnly(ctx context.Context, id string, ro bool) error {
	sess, err := s.open(ctx, id)
	if err != nil {
		return err
	}
	return sess.SetReadOnly(ctx, ro)
}

// Patches returns journaled patches of id newer than revision since.
func (s *Service) Patches(ctx context.Context, id string, since int64, limit int) ([]models.PatchRecord, error) {
	if _, err := s.store.Read(id); err != nil {
		return nil, err
	}
	recs, err := s.db.Patches(ctx, id, since, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.PatchRecord{}
	}
	return recs, nil
}

// DeleteDocument closes the session of id and removes the document.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	s.drop(id)
	if err := s.store.Delete(id); err != nil {
		return err
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if s.pub != nil {
		s.pub.PublishDocumentEvent(watcher.Deleted, id)
	}
	return nil
}

// MoveDocument renames a document. Its session is closed, so undo history
// does not follow it.
func (s *Service) MoveDocument(ctx context.Context, id, newID string) error {
	if _, err := s.store.Read(newID); err == nil {
		return apperr.ErrAlreadyExists
	}
	v, _, err := storage.Load(s.store, id)
	if err != nil {
		return err
	}
	s.drop(id)
	if _, err := s.db.SaveValue(ctx, newID, v); err != nil {
		return err
	}
	if err := s.store.Move(id, newID); err != nil {
		_ = s.db.DeleteDocument(ctx, newID)
		return err
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if s.pub != nil {
		s.pub.PublishDocumentEvent(watcher.Deleted, id)
		s.pub.PublishDocumentEvent(watcher.Created, newID)
	}
	return nil
}

// HandleFileEvent is the watcher callback: a document file changed outside
// the service.
func (s *Service) HandleFileEvent(kind, id string) {
	ctx := context.Background()
	log := s.log.With(slog.String("doc", id), slog.String("op", kind))

	if kind == watcher.Deleted {
		s.drop(id)
		if err := s.db.DeleteDocument(ctx, id); err != nil {
			log.Warn("file event: journal delete failed", slog.String("error", err.Error()))
		}
		if s.pub != nil {
			s.pub.PublishDocumentEvent(kind, id)
		}
		return
	}

	v, _, err := storage.Load(s.store, id)
	if err != nil {
		log.Warn("file event: load failed", slog.String("error", err.Error()))
		return
	}
	if sess, ok := s.lookup(id); ok {
		if err := sess.UpdateValue(ctx, v); err != nil {
			log.Warn("file event: update failed", slog.String("error", err.Error()))
			return
		}
	} else if _, err := s.db.SaveValue(ctx, id, v); err != nil {
		log.Warn("file event: journal failed", slog.String("error", err.Error()))
		return
	}
	log.Debug("file event: applied")
	if s.pub != nil {
		s.pub.PublishDocumentEvent(kind, id)
	}
}
