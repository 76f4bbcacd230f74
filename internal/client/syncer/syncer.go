// Package syncer drives push and pull cycles between the local store and
// the sync server.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"infinite-experiment/logbook/internal/client/config"
	"infinite-experiment/logbook/internal/client/store"
	"infinite-experiment/logbook/internal/client/transport"
	"infinite-experiment/logbook/internal/logging"
	"infinite-experiment/logbook/internal/models/dtos"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrCycleInProgress = errors.New("sync cycle already in progress")

type State int32

const (
	StateIdle State = iota
	StatePushing
	StatePulling
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePushing:
		return "pushing"
	case StatePulling:
		return "pulling"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Store is the part of the local store a cycle needs.
type Store interface {
	QueueItems(ctx context.Context) ([]store.QueueItem, error)
	DeleteQueueItem(ctx context.Context, id string) error
	MarkRecordSynced(ctx context.Context, c dtos.Collection, id, serverID string) error
	MarkRecordError(ctx context.Context, c dtos.Collection, id string) error
	DiscardRecord(ctx context.Context, c dtos.Collection, id string) error
	ApplyRemote(ctx context.Context, c dtos.Collection, raw json.RawMessage) (bool, error)
	ApplyRemoteDeletion(ctx context.Context, c dtos.Collection, id string) error
	LastSyncAt(ctx context.Context) (int64, error)
	SetLastSyncAt(ctx context.Context, at int64) error
	OnMutation(fn func(dtos.Collection))
}

type Transport interface {
	Push(ctx context.Context, req dtos.SyncRequest) (*dtos.SyncResponse, error)
	PushBulk(ctx context.Context, items []dtos.BulkSyncItem) (*dtos.BulkSyncResponse, error)
	Delta(ctx context.Context, c dtos.Collection, since int64) (*dtos.DeltaResponse, error)
}

type Options struct {
	Mode      string
	BatchSize int
	Interval  time.Duration
}

// Result summarizes one cycle.
type Result struct {
	Pushed   int
	Rejected int
	Failed   int
	Pulled   int
	Deleted  int
}

type Syncer struct {
	store     Store
	transport Transport
	opts      Options
	log       *zap.SugaredLogger

	state  atomic.Int32
	online atomic.Bool

	mu      sync.Mutex
	running bool
	rerun   bool
	lastErr error
	last    Result

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a syncer to the store's mutation hook. The device starts
// online.
func New(st Store, tr Transport, opts Options) *Syncer {
	if opts.Mode == "" {
		opts.Mode = config.ModeBulk
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	bg, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		store:     st,
		transport: tr,
		opts:      opts,
		log:       logging.Component("syncer"),
		bg:        bg,
		cancel:    cancel,
	}
	s.online.Store(true)
	st.OnMutation(s.onMutation)
	return s
}

func (s *Syncer) State() State { return State(s.state.Load()) }

func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastResult returns the counts of the most recent finished cycle.
func (s *Syncer) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Syncer) Foregrounded() { s.trigger("foregrounded", false) }

func (s *Syncer) NetworkRestored() {
	s.online.Store(true)
	s.trigger("network_restored", false)
}

// NetworkLost stops mutations from starting cycles until NetworkRestored.
func (s *Syncer) NetworkLost() { s.online.Store(false) }

func (s *Syncer) Manual() { s.trigger("manual", false) }

func (s *Syncer) onMutation(dtos.Collection) {
	if !s.online.Load() {
		return
	}
	s.trigger("mutation", true)
}

// trigger starts a background cycle unless one is running. A busy trigger
// is absorbed; with rerun set it asks for one more cycle afterward.
func (s *Syncer) trigger(reason string, rerun bool) {
	s.mu.Lock()
	if s.running {
		if rerun {
			s.rerun = true
		}
		s.mu.Unlock()
		return
	}
	s.running = true
	s.rerun = false
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.loop(s.bg); err != nil {
			s.log.Warnw("sync cycle failed", "trigger", reason, "error", err)
		}
	}()
}

// SyncNow runs a cycle on the caller's goroutine.
func (s *Syncer) SyncNow(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrCycleInProgress
	}
	s.running = true
	s.rerun = false
	s.mu.Unlock()

	err := s.loop(ctx)
	return s.LastResult(), err
}

func (s *Syncer) loop(ctx context.Context) error {
	for {
		res, err := s.cycle(ctx)

		s.mu.Lock()
		s.last = res
		s.lastErr = err
		// A mutation made during the cycle gets one more cycle, even after
		// a failure, so it is not left waiting for the next trigger.
		if s.rerun && ctx.Err() == nil {
			s.rerun = false
			s.mu.Unlock()
			continue
		}
		s.running = false
		s.rerun = false
		s.mu.Unlock()
		return err
	}
}

func (s *Syncer) cycle(ctx context.Context) (Result, error) {
	var res Result

	s.state.Store(int32(StatePushing))
	if err := s.push(ctx, &res); err != nil {
		s.state.Store(int32(StateError))
		return res, err
	}

	s.state.Store(int32(StatePulling))
	if err := s.pull(ctx, &res); err != nil {
		s.state.Store(int32(StateError))
		return res, err
	}

	s.state.Store(int32(StateIdle))
	s.log.Debugw("sync cycle finished",
		"pushed", res.Pushed, "rejected", res.Rejected, "failed", res.Failed,
		"pulled", res.Pulled, "deleted", res.Deleted)
	return res, nil
}

// Run syncs on the configured interval until ctx is done. With no
// interval it only waits for ctx.
func (s *Syncer) Run(ctx context.Context) {
	defer s.Close()

	if s.opts.Interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.online.Load() {
				s.trigger("interval", false)
			}
		}
	}
}

// Close cancels background cycles and waits for them.
func (s *Syncer) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until background cycles have finished, for tests and the
// CLI.
func (s *Syncer) Wait() { s.wg.Wait() }

func (s *Syncer) push(ctx context.Context, res *Result) error {
	items, err := s.store.QueueItems(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	if s.opts.Mode == config.ModeSingle {
		return s.pushSingle(ctx, items, res)
	}
	return s.pushBulk(ctx, items, res)
}

func (s *Syncer) pushSingle(ctx context.Context, items []store.QueueItem, res *Result) error {
	for _, item := range items {
		resp, err := s.transport.Push(ctx, dtos.SyncRequest{
			Type:       item.Type,
			Collection: item.Collection,
			Data:       item.Payload(),
		})
		if err != nil {
			return s.transportFailed(ctx, []store.QueueItem{item}, res, err)
		}
		if err := s.applyOutcome(ctx, item, resp.Success, resp.Rejected, resp.ServerID, resp.Reason, res); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) pushBulk(ctx context.Context, items []store.QueueItem, res *Result) error {
	for _, batch := range batches(items, s.opts.BatchSize) {
		wire := make([]dtos.BulkSyncItem, len(batch))
		for i, item := range batch {
			wire[i] = item.BulkItem()
		}

		resp, err := s.transport.PushBulk(ctx, wire)
		if err != nil {
			return s.transportFailed(ctx, batch, res, err)
		}

		for i, item := range batch {
			r := resp.Results[i]
			if r.QueueItemID != item.ID {
				return fmt.Errorf("bulk result %d is for %q, expected %q", i, r.QueueItemID, item.ID)
			}
			if err := s.applyOutcome(ctx, item, r.Success, r.Rejected, r.ServerID, r.Reason, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// batches splits items per collection, keeping queue order inside each
// collection, into chunks of at most size.
func batches(items []store.QueueItem, size int) [][]store.QueueItem {
	var order []string
	groups := map[string][]store.QueueItem{}
	for _, item := range items {
		if _, ok := groups[item.Collection]; !ok {
			order = append(order, item.Collection)
		}
		groups[item.Collection] = append(groups[item.Collection], item)
	}

	var out [][]store.QueueItem
	for _, c := range order {
		group := groups[c]
		for len(group) > 0 {
			n := min(size, len(group))
			out = append(out, group[:n])
			group = group[n:]
		}
	}
	return out
}

func (s *Syncer) applyOutcome(ctx context.Context, item store.QueueItem, success, rejected bool, serverID, reason string, res *Result) error {
	c := dtos.Collection(item.Collection)

	switch {
	case success:
		res.Pushed++
		if err := s.store.DeleteQueueItem(ctx, item.ID); err != nil {
			return err
		}
		if item.Type == string(dtos.OpDelete) {
			return nil
		}
		return s.store.MarkRecordSynced(ctx, c, item.RecordID, serverID)

	case rejected:
		res.Rejected++
		s.log.Infow("record deleted on another device, discarding", "collection", c, "id", item.RecordID, "reason", reason)
		return s.store.DiscardRecord(ctx, c, item.RecordID)

	default:
		res.Failed++
		s.log.Warnw("queue item failed", "collection", c, "id", item.RecordID, "type", item.Type, "reason", reason)
		return s.store.MarkRecordError(ctx, c, item.RecordID)
	}
}

// transportFailed handles a request that produced no per-item outcome.
// Items stay queued. Auth failures leave records untouched.
func (s *Syncer) transportFailed(ctx context.Context, items []store.QueueItem, res *Result, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !isUnauthorized(cause) {
		for _, item := range items {
			res.Failed++
			if err := s.store.MarkRecordError(ctx, dtos.Collection(item.Collection), item.RecordID); err != nil {
				return errors.Join(cause, err)
			}
		}
	}
	return fmt.Errorf("push: %w", cause)
}

func (s *Syncer) pull(ctx context.Context, res *Result) error {
	since, err := s.store.LastSyncAt(ctx)
	if err != nil {
		return err
	}

	deltas := make([]*dtos.DeltaResponse, len(dtos.Collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range dtos.Collections {
		g.Go(func() error {
			d, err := s.transport.Delta(gctx, c, since)
			if err != nil {
				return fmt.Errorf("pull %s: %w", c, err)
			}
			deltas[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var watermark int64
	for i, c := range dtos.Collections {
		d := deltas[i]
		for _, raw := range d.Records {
			applied, err := s.store.ApplyRemote(ctx, c, raw)
			if err != nil {
				return err
			}
			if applied {
				res.Pulled++
			}
		}
		for _, id := range d.Deleted {
			if err := s.store.ApplyRemoteDeletion(ctx, c, id); err != nil {
				return err
			}
			res.Deleted++
		}
		if i == 0 || d.SyncedAt < watermark {
			watermark = d.SyncedAt
		}
	}

	if watermark > since {
		return s.store.SetLastSyncAt(ctx, watermark)
	}
	return nil
}

func isUnauthorized(err error) bool { return errors.Is(err, transport.ErrUnauthorized) }
