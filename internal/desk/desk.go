package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"librarydesk/internal/library"
	"librarydesk/internal/models"
	"librarydesk/internal/view"
	"librarydesk/internal/worker"
)

var ErrEmptyQuestion = errors.New("question is empty")

// Backend is the slice of the library REST API a desk needs.
type Backend interface {
	ListBooks(ctx context.Context) ([]models.Book, error)
	ListBorrowRecords(ctx context.Context) ([]models.BorrowRecord, error)
	BorrowBook(ctx context.Context, bookID int64) error
	ReturnBook(ctx context.Context, recordID int64) error
	Ask(ctx context.Context, question string) (string, error)
	Prime(ctx context.Context) error
}

// Scheduler runs desk work in the background.
type Scheduler interface {
	Submit(job worker.Job) error
	Cancel(key string)
}

type Options struct {
	Locale  string
	Welcome string // overrides the localized welcome message
	Logger  *zap.Logger
	Now     func() time.Time

	// OnCatalogChange is called with the desk id after a successful borrow or return.
	OnCatalogChange func(deskID string)
}

// Desk is the client state behind one open page: three view regions and the
// chat transcript. It is safe for concurrent use.
type Desk struct {
	id        string
	backend   Backend
	scheduler Scheduler
	locale    string
	labels    view.Labels
	welcome   string
	now       func() time.Time
	logger    *zap.Logger
	onChange  func(string)

	userInfo   *view.Region[view.UserInfo]
	catalog    *view.Region[view.Catalog]
	records    *view.Region[view.Records]
	transcript *view.Transcript

	events   *broadcaster
	lastSeen atomic.Int64
}

func New(id string, backend Backend, scheduler Scheduler, opts Options) *Desk {
	labels := view.LabelsFor(opts.Locale)
	d := &Desk{
		id:         id,
		backend:    backend,
		scheduler:  scheduler,
		locale:     opts.Locale,
		labels:     labels,
		welcome:    labels.Welcome,
		now:        opts.Now,
		logger:     opts.Logger,
		onChange:   opts.OnCatalogChange,
		userInfo:   view.NewRegion(view.RegionUserInfo, view.UserInfo{}),
		catalog:    view.NewRegion(view.RegionCatalog, view.Catalog{Entries: []view.CatalogEntry{}}),
		records:    view.NewRegion(view.RegionRecords, view.Records{Entries: []view.RecordEntry{}}),
		transcript: view.NewTranscript(),
		events:     newBroadcaster(),
	}
	if d.locale == "" {
		d.locale = view.LocaleEnglish
	}
	if opts.Welcome != "" {
		d.welcome = opts.Welcome
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("desk", id))
	d.Touch()
	return d
}

func (d *Desk) ID() string          { return d.id }
func (d *Desk) Locale() string      { return d.locale }
func (d *Desk) Labels() view.Labels { return d.labels }

// Touch records activity so the registry keeps the desk alive.
func (d *Desk) Touch() { d.lastSeen.Store(d.now().UnixNano()) }

func (d *Desk) LastSeen() time.Time { return time.Unix(0, d.lastSeen.Load()) }

// Start appends the welcome message and schedules the initial load: cookie
// priming followed by one render of each region.
func (d *Desk) Start() error {
	d.transcript.Append(models.RoleBot, d.welcome)
	d.events.publish(Event{Kind: EventTranscript})
	return d.schedule("load", d.Load)
}

// Load primes the backend cookies and renders all regions once.
func (d *Desk) Load(ctx context.Context) {
	if err := d.backend.Prime(ctx); err != nil {
		d.logger.Warn("prime backend cookies", zap.Error(err))
	}
	d.Refresh(ctx)
}

// RenderUserInfo re-fetches the borrow records and redraws the user info region.
func (d *Desk) RenderUserInfo(ctx context.Context) {
	seq := d.userInfo.Begin()
	records, err := d.backend.ListBorrowRecords(ctx)
	if err != nil {
		d.logger.Warn("load user info", zap.Error(err))
	}
	if d.userInfo.Apply(seq, view.RenderUserInfo(d.labels, records, err, d.now())) {
		d.events.publish(Event{Kind: EventRegion, Region: view.RegionUserInfo})
	}
}

// RenderCatalog re-fetches the books and redraws the catalog region.
func (d *Desk) RenderCatalog(ctx context.Context) {
	seq := d.catalog.Begin()
	d.events.publish(Event{Kind: EventRegion, Region: view.RegionCatalog})
	books, err := d.backend.ListBooks(ctx)
	if err != nil {
		d.logger.Warn("load book list", zap.Error(err))
	}
	if d.catalog.Apply(seq, view.RenderCatalog(d.labels, books, err)) {
		d.events.publish(Event{Kind: EventRegion, Region: view.RegionCatalog})
	}
}

// RenderRecords re-fetches the borrow records and redraws the records region.
func (d *Desk) RenderRecords(ctx context.Context) {
	seq := d.records.Begin()
	d.events.publish(Event{Kind: EventRegion, Region: view.RegionRecords})
	records, err := d.backend.ListBorrowRecords(ctx)
	if err != nil {
		d.logger.Warn("load borrow records", zap.Error(err))
	}
	if d.records.Apply(seq, view.RenderRecords(d.labels, records, err, d.now())) {
		d.events.publish(Event{Kind: EventRegion, Region: view.RegionRecords})
	}
}

// Refresh runs the three renderers concurrently and waits for them.
func (d *Desk) Refresh(ctx context.Context) {
	var g errgroup.Group
	for _, render := range []func(context.Context){d.RenderCatalog, d.RenderRecords, d.RenderUserInfo} {
		render := render
		g.Go(func() error {
			render(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// ScheduleRefresh queues a Refresh on the scheduler.
func (d *Desk) ScheduleRefresh() error {
	return d.schedule("refresh", d.Refresh)
}

// Borrow asks the backend to lend bookID. The returned error is the backend
// error, if any; the notice is what the user sees either way.
func (d *Desk) Borrow(ctx context.Context, bookID int64) (models.Notice, error) {
	err := d.backend.BorrowBook(ctx, bookID)
	notice := d.actionNotice(ctx, err, d.labels.BorrowSuccess, d.labels.BorrowFailedText, d.labels.BorrowError)
	if err != nil {
		d.logger.Info("borrow failed", zap.Int64("book_id", bookID), zap.Error(err))
	}
	return notice, err
}

// Return closes the borrow record recordID. See Borrow.
func (d *Desk) Return(ctx context.Context, recordID int64) (models.Notice, error) {
	err := d.backend.ReturnBook(ctx, recordID)
	notice := d.actionNotice(ctx, err, d.labels.ReturnSuccess, d.labels.ReturnFailedText, d.labels.ReturnError)
	if err != nil {
		d.logger.Info("return failed", zap.Int64("record_id", recordID), zap.Error(err))
	}
	return notice, err
}

func (d *Desk) actionNotice(ctx context.Context, err error, success string, failed func(string) string, generic string) models.Notice {
	var notice models.Notice
	if err == nil {
		notice = models.Notice{Level: models.NoticeSuccess, Message: success}
	} else if msg, ok := library.ServerMessage(err); ok {
		notice = models.Notice{Level: models.NoticeError, Message: failed(msg)}
	} else {
		notice = models.Notice{Level: models.NoticeError, Message: generic}
	}
	d.events.publish(Event{Kind: EventNotice, Notice: &notice})
	if err == nil {
		if serr := d.ScheduleRefresh(); serr != nil {
			d.logger.Warn("schedule refresh, rendering inline", zap.Error(serr))
			d.Refresh(context.WithoutCancel(ctx))
		}
		if d.onChange != nil {
			d.onChange(d.id)
		}
	}
	return notice
}

// BeginTurn appends the question and a placeholder tagged with a new turn id.
// Blank questions are rejected with ErrEmptyQuestion and leave no trace.
func (d *Desk) BeginTurn(question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	turnID := uuid.NewString()
	d.transcript.Append(models.RoleUser, question)
	d.transcript.AppendPending(turnID, d.labels.Thinking)
	d.events.publish(Event{Kind: EventTranscript})
	return turnID, nil
}

// CompleteTurn asks the backend and replaces the turn's placeholder with the
// answer or an error line.
func (d *Desk) CompleteTurn(ctx context.Context, turnID, question string) {
	answer, err := d.backend.Ask(ctx, question)
	if err != nil {
		d.logger.Info("chat failed", zap.String("turn", turnID), zap.Error(err))
		if msg, ok := library.ServerMessage(err); ok {
			answer = d.labels.ChatFailedText(msg)
		} else {
			answer = d.labels.ChatUnreachable
		}
	}
	d.resolve(turnID, answer)
}

// Ask runs a whole chat turn synchronously.
func (d *Desk) Ask(ctx context.Context, question string) (string, error) {
	turnID, err := d.BeginTurn(question)
	if err != nil {
		return "", err
	}
	d.CompleteTurn(ctx, turnID, question)
	return turnID, nil
}

// SubmitQuestion starts a chat turn and completes it on the scheduler. When
// the scheduler refuses the job the turn is closed with the unreachable line.
func (d *Desk) SubmitQuestion(question string) (string, error) {
	turnID, err := d.BeginTurn(question)
	if err != nil {
		return "", err
	}
	err = d.schedule("chat", func(ctx context.Context) {
		d.CompleteTurn(ctx, turnID, question)
	})
	if err != nil {
		d.resolve(turnID, d.labels.ChatUnreachable)
		return turnID, fmt.Errorf("schedule chat turn: %w", err)
	}
	return turnID, nil
}

func (d *Desk) resolve(turnID, content string) {
	if d.transcript.Resolve(turnID, content) {
		d.events.publish(Event{Kind: EventTranscript})
	}
}

func (d *Desk) schedule(name string, run func(context.Context)) error {
	if d.scheduler == nil {
		return errors.New("desk has no scheduler")
	}
	return d.scheduler.Submit(worker.Job{Key: d.id, Name: name, Run: run})
}

// Snapshot is a consistent-per-region copy of the desk.
type Snapshot struct {
	UserInfo   view.RegionState[view.UserInfo] `json:"user_info"`
	Catalog    view.RegionState[view.Catalog]  `json:"catalog"`
	Records    view.RegionState[view.Records]  `json:"records"`
	Transcript view.TranscriptView             `json:"transcript"`
}

func (d *Desk) Snapshot() Snapshot {
	return Snapshot{
		UserInfo:   d.userInfo.Snapshot(),
		Catalog:    d.catalog.Snapshot(),
		Records:    d.records.Snapshot(),
		Transcript: d.transcript.Snapshot(),
	}
}

// Subscribe returns a channel of change events and a func that ends the
// subscription. A subscriber that falls behind misses events.
func (d *Desk) Subscribe(buffer int) (<-chan Event, func()) {
	return d.events.subscribe(buffer)
}

// Close ends every subscription and drops queued work of the desk.
func (d *Desk) Close() {
	if d.scheduler != nil {
		d.scheduler.Cancel(d.id)
	}
	d.events.close()
}
