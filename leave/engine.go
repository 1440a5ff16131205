package leave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
)

// Engine wires the leave components over one repository. The components share
// the per-request locks and the year gate.
type Engine struct {
	Catalog   *Catalog
	Ledger    *EntitlementLedger
	Workflow  *Workflow
	Maternity *MaternityResolver
	Archive   *Archive
	Reports   *Reports
}

type Option func(*deps)

// WithLogger sets the component logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(d *deps) { d.logger = l } }

// WithPublisher sets where committed workflow events go.
func WithPublisher(p Publisher) Option { return func(d *deps) { d.publisher = p } }

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

// WithIDGenerator overrides uuid request IDs.
func WithIDGenerator(fn func() string) Option { return func(d *deps) { d.newID = fn } }

// WithCloseConcurrency bounds how many employees a year close archives at once.
func WithCloseConcurrency(n int) Option { return func(d *deps) { d.closeConcurrency = n } }

func New(repo TxRepository, catalog *Catalog, opts ...Option) *Engine {
	d := &deps{
		repo:             repo,
		catalog:          catalog,
		publisher:        nopPublisher{},
		logger:           slog.Default(),
		now:              time.Now,
		newID:            uuid.NewString,
		requests:         newKeyedMutex(),
		years:            newYearGate(),
		closeConcurrency: 4,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.closeConcurrency < 1 {
		d.closeConcurrency = 1
	}

	ledger := &EntitlementLedger{deps: d}
	maternity := &MaternityResolver{deps: d, ledger: ledger}
	return &Engine{
		Catalog:   catalog,
		Ledger:    ledger,
		Workflow:  &Workflow{deps: d, ledger: ledger},
		Maternity: maternity,
		Archive:   &Archive{deps: d, ledger: ledger},
		Reports:   &Reports{deps: d, ledger: ledger, maternity: maternity},
	}
}

// deps is shared by every component of one Engine.
type deps struct {
	repo             TxRepository
	catalog          *Catalog
	publisher        Publisher
	logger           *slog.Logger
	now              func() time.Time
	newID            func() string
	requests         *keyedMutex
	years            *yearGate
	closeConcurrency int
}

func (d *deps) currentYear() int { return d.now().Year() }

func (d *deps) policy(t Type) (Policy, error) {
	p, ok := d.catalog.Get(t)
	if !ok {
		return Policy{}, &NotFoundError{What: "leave type", ID: string(t)}
	}
	return p, nil
}

func (d *deps) audit(ctx context.Context, repo Repository, e generic.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = d.now().UTC()
	}
	return repo.AppendAudit(ctx, e)
}

func (d *deps) publish(ctx context.Context, e Event) {
	if err := d.publisher.Publish(ctx, e); err != nil {
		d.logger.Warn("publish event failed",
			"event", e.Type,
			"request_id", e.RequestID,
			"error", err,
		)
	}
}

func (d *deps) yearClosed(ctx context.Context, repo Repository, year int) (bool, error) {
	closed, err := repo.IsYearClosed(ctx, year)
	if err != nil {
		return false, fmt.Errorf("check year %d: %w", year, err)
	}
	return closed, nil
}
