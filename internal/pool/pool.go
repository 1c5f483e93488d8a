// Package pool maintains the set of pre-generated, never-issued card
// identifiers and hands each of them out exactly once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alovak/vcard/internal/cardgen"
	"github.com/alovak/vcard/internal/expiry"
	"golang.org/x/exp/slog"
)

var ErrPoolExhausted = errors.New("identifier pool exhausted")

type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithClock overrides time.Now; the calendar date drives daily regeneration.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithSnapshotStore sets where the pool is persisted. Without it the pool
// lives in memory only.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(p *Pool) { p.store = store }
}

type Pool struct {
	cfg    Config
	store  SnapshotStore
	logger *slog.Logger
	now    func() time.Time
	space  int

	mu             sync.Mutex
	ids            []string
	index          map[string]int
	issued         map[string]struct{}
	lastGeneration string
	bgErr          error

	refilling atomic.Bool
	topUps    atomic.Int64
	wg        sync.WaitGroup
}

// New builds a pool from the stored snapshot. issued lists every identifier
// already assigned to a card; those are never handed out again.
func New(cfg Config, issued []string, opts ...Option) (*Pool, error) {
	p := &Pool{
		cfg:    cfg.withDefaults(),
		store:  nopSnapshotStore{},
		logger: slog.Default(),
		now:    time.Now,
		space:  cardgen.IdentifierSpace,
		index:  make(map[string]int),
		issued: make(map[string]struct{}, len(issued)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "pool"))

	for _, id := range issued {
		p.issued[id] = struct{}{}
	}

	snap, err := p.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading pool snapshot: %w", err)
	}
	if snap != nil {
		dropped := 0
		for _, id := range snap.Cards {
			if !cardgen.IsWellFormed(id) || p.containsLocked(id) {
				dropped++
				continue
			}
			p.addLocked(id)
		}
		p.lastGeneration = snap.LastGeneration
		if dropped > 0 {
			p.logger.Warn("discarded snapshot entries", slog.Int("count", dropped))
		}
	}

	return p, nil
}

// EnsureFresh regenerates the pool once per calendar day and otherwise tops
// it up when it falls below MinSize.
func (p *Pool) EnsureFresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	today := expiry.DayKey(p.now())
	switch {
	case p.lastGeneration != today:
		started := time.Now()
		p.ids = p.ids[:0]
		p.index = make(map[string]int, p.cfg.TargetSize)
		added, err := p.fillLocked(p.cfg.TargetSize)
		p.lastGeneration = today
		p.logger.Info("pool regenerated",
			slog.Int("size", added),
			slog.String("date", today),
			slog.Duration("took", time.Since(started)))
		if err != nil {
			p.logger.Error("regenerating pool", "err", err)
		}
	case len(p.ids) < p.cfg.MinSize:
		added, err := p.fillLocked(p.cfg.TopUpIncrement)
		p.logger.Info("pool topped up", slog.Int("added", added), slog.Int("size", len(p.ids)))
		if err != nil {
			p.logger.Error("topping up pool", "err", err)
		}
	default:
		return nil
	}

	if err := p.saveLocked(); err != nil {
		return err
	}
	if len(p.ids) == 0 {
		return ErrPoolExhausted
	}
	return nil
}

// Issue pops one identifier. The identifier is recorded as issued and the
// snapshot is written before it is returned.
func (p *Pool) Issue(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	if len(p.ids) < p.cfg.EmergencyThreshold {
		added, err := p.fillLocked(p.cfg.TopUpIncrement)
		p.logger.Warn("emergency top-up", slog.Int("added", added), slog.Int("size", len(p.ids)))
		if err != nil {
			p.logger.Error("emergency top-up", "err", err)
		}
	}
	if len(p.ids) == 0 {
		p.mu.Unlock()
		return "", ErrPoolExhausted
	}

	id := p.popLocked()
	p.issued[id] = struct{}{}
	if err := p.saveLocked(); err != nil {
		delete(p.issued, id)
		p.addLocked(id)
		p.mu.Unlock()
		return "", err
	}
	size := len(p.ids)
	p.mu.Unlock()

	if size < p.cfg.LowWatermark {
		p.scheduleTopUp()
	}
	return id, nil
}

// TopUp adds n fresh identifiers. Candidates are generated outside the lock
// and inserted in batches, so Issue keeps working while a top-up runs.
func (p *Pool) TopUp(ctx context.Context, n int) error {
	src := cardgen.NewSource()
	added := 0
	for added < n {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := min(p.cfg.BatchSize, n-added)
		candidates := make([]string, 0, batch)
		for len(candidates) < batch {
			id, err := src.Next()
			if err != nil {
				return fmt.Errorf("generating identifier: %w", err)
			}
			candidates = append(candidates, id)
		}

		p.mu.Lock()
		if p.availableLocked() == 0 {
			p.mu.Unlock()
			return fmt.Errorf("%w: identifier space used up", ErrPoolExhausted)
		}
		for _, id := range candidates {
			if added == n || p.availableLocked() == 0 {
				break
			}
			if p.containsLocked(id) {
				continue
			}
			p.addLocked(id)
			added++
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked()
}

func (p *Pool) scheduleTopUp() {
	if !p.refilling.CompareAndSwap(false, true) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.refilling.Store(false)

		err := p.TopUp(context.Background(), p.cfg.TopUpIncrement)

		p.mu.Lock()
		p.bgErr = err
		size := len(p.ids)
		p.mu.Unlock()

		if err != nil {
			p.logger.Error("background top-up", "err", err)
			return
		}
		p.topUps.Add(1)
		p.logger.Info("background top-up finished", slog.Int("size", size))
	}()
}

// Run calls EnsureFresh every interval until ctx is done.
func (p *Pool) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.EnsureFresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("refreshing pool", "err", err)
			}
		}
	}
}

// Wait blocks until in-flight background top-ups finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size           int    `json:"pool_size"`
	Issued         int    `json:"issued"`
	LastGeneration string `json:"last_generation"`
	TopUps         int64  `json:"background_top_ups"`
	Refilling      bool   `json:"refilling"`
	LastError      string `json:"last_error,omitempty"`
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Size:           len(p.ids),
		Issued:         len(p.issued),
		LastGeneration: p.lastGeneration,
		TopUps:         p.topUps.Load(),
		Refilling:      p.refilling.Load(),
	}
	if p.bgErr != nil {
		s.LastError = p.bgErr.Error()
	}
	return s
}

// IsIssued reports whether id has already been handed out.
func (p *Pool) IsIssued(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.issued[id]
	return ok
}

// fillLocked generates up to n identifiers disjoint from the pool and the
// issued set. When the identifier space cannot hold n more it fills what it
// can and reports ErrPoolExhausted.
func (p *Pool) fillLocked(n int) (int, error) {
	var exhausted error
	if avail := p.availableLocked(); avail < n {
		n = avail
		exhausted = fmt.Errorf("%w: only %d identifiers left", ErrPoolExhausted, avail)
	}

	src := cardgen.NewSource()
	added := 0
	for added < n {
		id, err := src.Next()
		if err != nil {
			return added, fmt.Errorf("generating identifier: %w", err)
		}
		if p.containsLocked(id) {
			continue
		}
		p.addLocked(id)
		added++
	}
	return added, exhausted
}

func (p *Pool) availableLocked() int {
	return p.space - len(p.issued) - len(p.ids)
}

func (p *Pool) containsLocked(id string) bool {
	if _, ok := p.index[id]; ok {
		return true
	}
	_, ok := p.issued[id]
	return ok
}

func (p *Pool) addLocked(id string) {
	p.index[id] = len(p.ids)
	p.ids = append(p.ids, id)
}

func (p *Pool) popLocked() string {
	last := len(p.ids) - 1
	id := p.ids[last]
	p.ids = p.ids[:last]
	delete(p.index, id)
	return id
}

func (p *Pool) saveLocked() error {
	snap := &Snapshot{
		Cards:          p.ids,
		LastGeneration: p.lastGeneration,
		PoolSize:       len(p.ids),
	}
	if err := p.store.Save(snap); err != nil {
		return fmt.Errorf("saving pool snapshot: %w", err)
	}
	return nil
}
