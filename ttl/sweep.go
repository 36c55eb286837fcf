package ttl

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/micro/go-kv/store"
	"github.com/pkg/errors"
)

// Source is the part of a store a sweep needs.
type Source interface {
	Keys(ctx context.Context, opts ...store.KeysOption) ([]string, error)
	Get(ctx context.Context, key string) (*store.Record, error)
	Remove(ctx context.Context, key string) error
}

// SweepResult describes one sweep.
type SweepResult struct {
	// Visited is the number of keys read
	Visited int
	// Expired are the keys removed, in visit order
	Expired []string
	// Err aggregates the per key failures
	Err error
}

// Sweep visits at most BatchSize keys, starting after the last key the
// previous sweep visited, and removes the expired ones. Failures on single
// keys are collected in the result and the batch continues. An error is only
// returned when the keys can't be listed.
func (m *Manager) Sweep(ctx context.Context, src Source) (*SweepResult, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		err = errors.Wrap(err, "sweep keys")
		m.events.Emit(EventError, Event{Err: err, Time: m.now()})
		return nil, err
	}
	sort.Strings(keys)

	m.Lock()
	batch, next := window(keys, m.cursor, m.opts.BatchSize)
	m.cursor = next
	m.Unlock()

	now := m.now()
	res := &SweepResult{Visited: len(batch)}
	var merr *multierror.Error

	for _, k := range batch {
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}

		r, err := src.Get(ctx, k)
		if err == store.ErrNotFound {
			continue
		} else if err != nil {
			merr = multierror.Append(merr, m.fail(k, errors.Wrapf(err, "get %s", k)))
			continue
		}
		if !r.Expired(now) {
			continue
		}
		if err := src.Remove(ctx, k); err != nil {
			merr = multierror.Append(merr, m.fail(k, errors.Wrapf(err, "remove %s", k)))
			continue
		}

		res.Expired = append(res.Expired, k)
		m.dispose(k, r.Value)
	}

	res.Err = merr.ErrorOrNil()

	if len(res.Expired) > 0 {
		m.log.Debugf("swept %d expired of %d visited", len(res.Expired), res.Visited)
		if m.opts.OnExpire != nil {
			m.opts.OnExpire(append([]string(nil), res.Expired...))
		}
		m.events.Emit(EventExpired, Event{Keys: append([]string(nil), res.Expired...), Time: now})
	}

	return res, nil
}

func (m *Manager) fail(key string, err error) error {
	m.log.WithError(err).Errorf("sweep failed on %s", key)
	m.events.Emit(EventError, Event{Key: key, Err: err, Time: m.now()})
	return err
}

// window returns up to n sorted keys after cursor, and the cursor for the
// next call. Reaching the end resets the cursor so the next call starts over.
func window(keys []string, cursor string, n int) ([]string, string) {
	start := 0
	if cursor != "" {
		start = sort.SearchStrings(keys, cursor)
		if start < len(keys) && keys[start] == cursor {
			start++
		}
		if start >= len(keys) {
			start = 0
		}
	}

	end := start + n
	if end >= len(keys) {
		return keys[start:], ""
	}
	return keys[start:end], keys[end-1]
}

// ExpiringSoon returns the live keys whose deadline falls within window from
// now, soonest first.
func (m *Manager) ExpiringSoon(ctx context.Context, src Source, within time.Duration) ([]Expiring, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "expiring keys")
	}
	sort.Strings(keys)

	now := m.now()
	limit := now.Add(within)
	var out []Expiring

	for _, k := range keys {
		r, err := src.Get(ctx, k)
		if err == store.ErrNotFound {
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "expiring %s", k)
		}
		if r.Expires.IsZero() || r.Expires.Before(now) || r.Expires.After(limit) {
			continue
		}
		out = append(out, Expiring{Key: k, Expires: r.Expires, TTL: r.Expires.Sub(now)})
	}

	sortExpiring(out)
	return out, nil
}

// Start runs a sweep over src every CleanupInterval until Stop. It does
// nothing when AutoCleanup is off or the timer already runs.
func (m *Manager) Start(src Source) {
	if !m.opts.AutoCleanup || m.opts.CleanupInterval <= 0 {
		return
	}

	m.Lock()
	defer m.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.exit = make(chan bool)
	m.done = make(chan bool)

	go m.run(src, m.exit, m.done)
}

func (m *Manager) run(src Source, exit, done chan bool) {
	defer close(done)

	t := time.NewTicker(m.opts.CleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			// failures were already emitted as error events
			if _, err := m.Sweep(context.Background(), src); err != nil {
				m.log.WithError(err).Error("scheduled sweep failed")
			}
		case <-exit:
			return
		}
	}
}

// Stop ends the sweep timer and waits for a running sweep to finish.
func (m *Manager) Stop() {
	m.Lock()
	if !m.running {
		m.Unlock()
		return
	}
	m.running = false
	close(m.exit)
	done := m.done
	m.Unlock()

	<-done
}

// Close stops the timer and releases every event handler and disposal callback.
func (m *Manager) Close() {
	m.Stop()
	m.events.Close()

	m.Lock()
	m.disposers = make(map[string]Disposer)
	m.Unlock()
}
