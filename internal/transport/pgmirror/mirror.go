// Package pgmirror implements the latest-state tier on a Postgres table
// holding one row per receiving peer and topic. The highest revision a peer
// has consumed is kept in context_mirror_cursor, so a restarted peer only
// sees slots written after it last polled.
package pgmirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"example.com/activitysync/internal/transport"
)

// DefaultPollInterval is how often the receiver looks for new revisions.
const DefaultPollInterval = time.Second

var revisionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "activitysync",
	Subsystem: "pgmirror",
	Name:      "last_revision",
	Help:      "Highest context_mirror revision delivered to this peer, per topic.",
}, []string{"topic"})

func init() {
	prometheus.MustRegister(revisionGauge)
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger overrides the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// Mirror implements transport.Mirror.
type Mirror struct {
	pool         *pgxpool.Pool
	peer         string
	counterpart  string
	pollInterval time.Duration
	logger       *log.Logger
	lastRevision int64
	cursorLoaded bool
}

// New constructs a Mirror. Writes land in the counterpart's rows and Run reads
// this peer's rows.
func New(pool *pgxpool.Pool, peer, counterpart string, opts ...Option) (*Mirror, error) {
	if peer == "" || counterpart == "" {
		return nil, errors.New("pgmirror: peer and counterpart ids are required")
	}
	m := &Mirror{
		pool:         pool,
		peer:         peer,
		counterpart:  counterpart,
		pollInterval: DefaultPollInterval,
		logger:       log.New(log.Writer(), "[pgmirror] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Put replaces the counterpart's slot for env.Topic and bumps its revision.
func (m *Mirror) Put(ctx context.Context, env transport.Envelope) error {
	sentAt := env.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	const stmt = `INSERT INTO context_mirror (peer, topic, payload, sent_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (peer, topic) DO UPDATE
        SET payload = EXCLUDED.payload,
            sent_at = EXCLUDED.sent_at,
            revision = nextval('context_mirror_revision_seq'),
            updated_at = NOW()`
	_, err := m.pool.Exec(ctx, stmt, m.counterpart, env.Topic, env.Payload, sentAt)
	return err
}

// Run polls this peer's rows and hands every new revision to sink. Polling
// resumes after the stored cursor.
func (m *Mirror) Run(ctx context.Context, sink func(transport.Envelope)) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if err := m.poll(ctx, sink); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Printf("poll error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Mirror) loadCursor(ctx context.Context) error {
	var revision int64
	err := m.pool.QueryRow(ctx, `SELECT revision FROM context_mirror_cursor WHERE peer = $1`, m.peer).Scan(&revision)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if revision > m.lastRevision {
		m.lastRevision = revision
	}
	m.cursorLoaded = true
	return nil
}

func (m *Mirror) storeCursor(ctx context.Context) error {
	const stmt = `INSERT INTO context_mirror_cursor (peer, revision)
        VALUES ($1, $2)
        ON CONFLICT (peer) DO UPDATE
        SET revision = GREATEST(context_mirror_cursor.revision, EXCLUDED.revision),
            updated_at = NOW()`
	_, err := m.pool.Exec(ctx, stmt, m.peer, m.lastRevision)
	return err
}

func (m *Mirror) poll(ctx context.Context, sink func(transport.Envelope)) error {
	if !m.cursorLoaded {
		if err := m.loadCursor(ctx); err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
	}

	const query = `SELECT topic, payload, revision, sent_at
        FROM context_mirror
        WHERE peer = $1 AND revision > $2
        ORDER BY revision`

	rows, err := m.pool.Query(ctx, query, m.peer, m.lastRevision)
	if err != nil {
		return err
	}
	defer rows.Close()

	type row struct {
		env      transport.Envelope
		revision int64
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.env.Topic, &r.env.Payload, &r.revision, &r.env.SentAt); err != nil {
			return err
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	for _, r := range pending {
		sink(r.env)
		m.lastRevision = r.revision
		revisionGauge.WithLabelValues(r.env.Topic).Set(float64(r.revision))
	}
	if err := m.storeCursor(ctx); err != nil {
		return fmt.Errorf("store cursor: %w", err)
	}
	return nil
}
