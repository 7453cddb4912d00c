// Package leaselock implements a cooperative lease on a Postgres table.
// The worker takes a lease per ingest message so competing replicas do not
// process the same redelivered documents at once; upserts stay idempotent
// either way, the lease just avoids burning model calls twice.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrBusy means another holder owns a live lease on the name.
	ErrBusy = errors.New("leaselock: lease busy")
	// ErrLost means a renewal found the lease gone or taken over.
	ErrLost = errors.New("leaselock: lease lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out leases backed by the leases table.
type Client struct {
	db dbConn
}

func New(pool *pgxpool.Pool) *Client { return &Client{db: pool} }

// Lease is a held lease. Context is cancelled when the lease is lost or
// released; work guarded by the lease should run under it.
type Lease struct {
	Name    string
	Context context.Context

	holder   string
	client   *Client
	cancel   context.CancelCauseFunc
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Acquire takes the lease on name for ttl, renewing at half-ttl cadence
// until released. Expired leases are taken over. A live lease held
// elsewhere returns ErrBusy; callers back off through their own retry
// path.
func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if name == "" {
		return nil, errors.New("leaselock: empty lease name")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	holder, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	var got string
	err = c.db.QueryRow(ctx, acquireSQL, name, holder, ttl.Milliseconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("leaselock: acquiring %s: %w", name, err)
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Name:    name,
		Context: leaseCtx,
		holder:  holder,
		client:  c,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
	go l.renew(ttl)
	return l, nil
}

// WithLease runs fn under the lease on name, releasing it afterwards.
func (c *Client) WithLease(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

// Release drops the lease and cancels its context. Releasing twice is
// fine; only the holder's row is deleted.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
	_, err := l.client.db.Exec(ctx, releaseSQL, l.Name, l.holder)
	return err
}

func (l *Lease) renew(ttl time.Duration) {
	every := max(ttl/2, time.Second)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(ttl); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttl time.Duration) error {
	for attempt := range 3 {
		ctx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var got string
		err := l.client.db.QueryRow(ctx, renewSQL, l.Name, l.holder, ttl.Milliseconds()).Scan(&got)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt == 2 {
			return err
		}
		select {
		case <-l.Context.Done():
			return context.Cause(l.Context)
		case <-time.After(200 * time.Millisecond):
		}
	}
	return ErrLost
}

const acquireSQL = `
INSERT INTO leases (name, holder, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (name) DO UPDATE
SET holder     = EXCLUDED.holder,
    expires_at = EXCLUDED.expires_at
WHERE leases.expires_at < now()
   OR leases.holder = EXCLUDED.holder
RETURNING name;
`

const renewSQL = `
UPDATE leases
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE name = $1 AND holder = $2
RETURNING name;
`

const releaseSQL = `
DELETE FROM leases
WHERE name = $1 AND holder = $2;
`
