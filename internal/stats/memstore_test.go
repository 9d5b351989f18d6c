package stats

import (
	"context"
	"sync"
	"time"
)

type memRun struct {
	date     time.Time
	distance float64
	duration int64
}

// memStore mirrors PGStore semantics in memory, including version checks
// and row locks held until the end of a transaction started with inTx.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]Statistics
	runs    map[string][]memRun
	rows    map[string]*sync.Mutex
	saves   int
	latency time.Duration
	onAggr  func()
}

type memTxKey struct{}

type memTx struct {
	held []*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		docs: map[string]Statistics{},
		runs: map[string][]memRun{},
		rows: map[string]*sync.Mutex{},
	}
}

// inTx runs fn as one transaction; row locks taken inside it are released
// when fn returns.
func (m *memStore) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &memTx{}
	defer func() {
		for _, l := range tx.held {
			l.Unlock()
		}
	}()
	return fn(context.WithValue(ctx, memTxKey{}, tx))
}

func (m *memStore) Load(_ context.Context, userID string) (Statistics, error) {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[userID]
	if !ok {
		return Statistics{}, ErrNotFound
	}
	return doc, nil
}

func (m *memStore) LoadForUpdate(ctx context.Context, userID string) (Statistics, error) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		m.mu.Lock()
		row, ok := m.rows[userID]
		if !ok {
			row = &sync.Mutex{}
			m.rows[userID] = row
		}
		m.mu.Unlock()
		row.Lock()
		tx.held = append(tx.held, row)
	}
	return m.Load(ctx, userID)
}

func (m *memStore) Save(_ context.Context, doc *Statistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[doc.UserID]
	switch {
	case !ok && doc.Version != 0:
		return ErrConflict
	case ok && cur.Version != doc.Version:
		return ErrConflict
	}
	doc.Version++
	m.docs[doc.UserID] = *doc
	m.saves++
	return nil
}

func (m *memStore) Aggregate(ctx context.Context, userID string, now time.Time) (Statistics, error) {
	if m.onAggr != nil {
		m.onAggr()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := Statistics{UserID: userID, UpdatedAt: now.UTC()}
	for _, p := range Periods {
		start := PeriodStart(p, now)
		var distance float64
		var duration, count int64
		for _, r := range m.runs[userID] {
			if r.date.Before(start) {
				continue
			}
			distance += r.distance
			duration += r.duration
			count++
		}
		doc.setBucket(p, newBucket(start, distance, duration, count))
	}
	return doc, nil
}

// record stores the run and applies it the way the run writer does.
func (m *memStore) record(ctx context.Context, userID string, run Run, at time.Time) error {
	return Retry(ctx, DefaultMaxAttempts, func() error {
		return m.inTx(ctx, func(ctx context.Context) error {
			if _, err := Apply(ctx, m, userID, run, at); err != nil {
				return err
			}
			m.mu.Lock()
			m.runs[userID] = append(m.runs[userID], memRun{date: at.UTC(), distance: run.Distance, duration: run.Duration})
			m.mu.Unlock()
			return nil
		})
	})
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
