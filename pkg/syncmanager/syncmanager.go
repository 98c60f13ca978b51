// Package syncmanager reconciles a set of local collections against a
// remote source of truth (spec §4.8): for each tracked collection it
// pushes the collection's locally compacted change set, pulls the
// remote's current view, replays any local edits made during the round
// trip on top of it, and reconciles the collection's in-memory state to
// match. Grounded on the teacher's pkg/replication/slave.go: the same
// per-node ticker-driven poll loop and retry-counter idiom, narrowed to
// one ticker per tracked collection (instead of one per replica node)
// since each collection's sync cadence and backoff state are independent.
package syncmanager

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mnohosten/relaydb/pkg/changelog"
	"github.com/mnohosten/relaydb/pkg/collection"
	"github.com/mnohosten/relaydb/pkg/relayerr"
	"github.com/mnohosten/relaydb/pkg/task"
)

// SyncContext is the opaque context a collection was registered with via
// AddCollection, handed back to Pull/Push so they know which remote
// resource a given collection maps to.
type SyncContext map[string]interface{}

// PullParams carries the watermark of the last successfully finished
// sync cycle, so a remote endpoint can answer with only what changed.
type PullParams struct {
	LastFinishedSyncStart time.Time
	LastFinishedSyncEnd   time.Time
}

// RemotePatch is the incremental form of a pull result: changes to apply
// to the stored snapshot rather than a full replacement of it.
type RemotePatch struct {
	Added    []map[string]interface{}
	Modified []map[string]interface{}
	Removed  []interface{}
}

// PullResult is either a full snapshot (Items non-nil) or an incremental
// patch (Changes non-nil) against the previously stored snapshot.
type PullResult struct {
	Items   []map[string]interface{}
	Changes *RemotePatch
}

// PushRequest is what a push callback receives: the compacted change set
// plus the raw entries it was compacted from, for callers that want
// field-level conflict resolution (spec: "core does not perform merging").
type PushRequest struct {
	Changes    changelog.ChangeSet
	RawChanges []changelog.Entry
}

// PullFunc fetches the remote view of one collection.
type PullFunc func(ctx context.Context, syncCtx SyncContext, params PullParams) (PullResult, error)

// PushFunc sends one collection's local changes to the remote.
type PushFunc func(ctx context.Context, syncCtx SyncContext, req PushRequest) error

// UnsubscribeFunc stops a remote-change subscription.
type UnsubscribeFunc func()

// RegisterRemoteChangeFunc subscribes to server-pushed change
// notifications; onChange should be called with the name of whichever
// tracked collection changed remotely.
type RegisterRemoteChangeFunc func(ctx context.Context, onChange func(collectionName string)) (UnsubscribeFunc, error)

// Config configures a SyncManager. Pull and Push are required; everything
// else is optional.
type Config struct {
	// SyncID namespaces the manager's bookkeeping collections so multiple
	// sync managers can share one storage root without colliding.
	SyncID string
	// Adapters builds a storage.Adapter for each bookkeeping collection
	// (changes/snapshots/sync-operations); nil keeps them in-memory.
	Adapters changelog.AdapterFactory

	Pull                 PullFunc
	Push                 PushFunc
	RegisterRemoteChange RegisterRemoteChangeFunc
	OnError              func(collectionName string, err error)

	// Autostart makes every collection eligible for remote-triggered
	// cycles (and runs its initial cycle) as soon as it is added, rather
	// than waiting for an explicit StartSync.
	Autostart bool

	// PollInterval drives a periodic cycle for every started collection,
	// in addition to remote-change-triggered and explicit cycles. Zero
	// disables periodic polling.
	PollInterval time.Duration
	// BackoffBase/BackoffCap bound the exponential-with-jitter retry delay
	// applied after a cycle ends in error (spec §4.8: "Backoff is
	// exponential with jitter, capped").
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BackoffBase <= 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 30 * time.Second
	}
	return out
}

type trackedCollection struct {
	collection *collection.Collection
	syncCtx    SyncContext

	mu           sync.Mutex
	subscribed   bool
	failures     int
	stopPoll     chan struct{}
	pollRunning  bool
}

// SyncManager orchestrates sync cycles for every collection registered
// via AddCollection.
type SyncManager struct {
	cfg   Config
	store *changelog.Store
	tasks *task.Serializer

	mu          sync.Mutex
	collections map[string]*trackedCollection

	unsubscribeRemote UnsubscribeFunc
}

// New opens the manager's bookkeeping collections and returns a ready
// SyncManager. Pull and Push must be set on cfg.
func New(ctx context.Context, cfg Config) (*SyncManager, error) {
	if cfg.Pull == nil || cfg.Push == nil {
		return nil, relayerr.Validation(fmt.Errorf("syncmanager: Pull and Push are required"))
	}
	resolved := cfg.withDefaults()
	syncID := resolved.SyncID
	if syncID == "" {
		syncID = "sync"
	}

	store, err := changelog.Open(ctx, syncID, resolved.Adapters)
	if err != nil {
		return nil, relayerr.Storage(fmt.Errorf("syncmanager: open changelog store: %w", err))
	}

	sm := &SyncManager{
		cfg:         resolved,
		store:       store,
		tasks:       task.New(),
		collections: make(map[string]*trackedCollection),
	}

	if resolved.RegisterRemoteChange != nil {
		unsubscribe, err := resolved.RegisterRemoteChange(ctx, sm.onRemoteChange)
		if err != nil {
			store.Dispose(ctx)
			return nil, relayerr.Sync(fmt.Errorf("syncmanager: register remote change: %w", err))
		}
		sm.unsubscribeRemote = unsubscribe
	}

	return sm, nil
}

// AddCollection associates coll with syncCtx and begins observing its
// mutations: every insert/update/remove is appended to the changes
// collection (via coll.SetMutationHook) before InsertOne/UpdateOne/
// DeleteOne report completion to their caller.
func (sm *SyncManager) AddCollection(ctx context.Context, coll *collection.Collection, syncCtx SyncContext) error {
	name := coll.Name()

	sm.mu.Lock()
	if _, exists := sm.collections[name]; exists {
		sm.mu.Unlock()
		return relayerr.Validation(fmt.Errorf("syncmanager: collection %q already registered", name))
	}
	tc := &trackedCollection{collection: coll, syncCtx: syncCtx}
	sm.collections[name] = tc
	sm.mu.Unlock()

	coll.SetMutationHook(func(m collection.Mutation) {
		entry := changelog.Entry{
			CollectionName: name,
			Time:           time.Now(),
			DocID:          m.ID,
		}
		switch m.Op {
		case collection.MutationInsert:
			entry.Op = changelog.OpInsert
			entry.Doc = m.Doc
		case collection.MutationUpdate:
			entry.Op = changelog.OpUpdate
			entry.Modifier = m.Modifier
			entry.FieldsTouched = m.FieldsTouched
		case collection.MutationRemove:
			entry.Op = changelog.OpRemove
		}
		if _, err := sm.store.Append(context.Background(), entry); err != nil && sm.cfg.OnError != nil {
			sm.cfg.OnError(name, fmt.Errorf("syncmanager: append change log: %w", err))
		}
	})

	if sm.cfg.Autostart {
		return sm.StartSync(ctx, name)
	}
	return nil
}

// StartSync makes name eligible for remote-change-triggered cycles, kicks
// off periodic polling if configured, and runs an initial cycle.
func (sm *SyncManager) StartSync(ctx context.Context, name string) error {
	tc, err := sm.lookup(name)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	alreadySubscribed := tc.subscribed
	tc.subscribed = true
	startPoll := sm.cfg.PollInterval > 0 && !tc.pollRunning
	if startPoll {
		tc.pollRunning = true
		tc.stopPoll = make(chan struct{})
	}
	tc.mu.Unlock()

	if startPoll {
		go sm.pollLoop(name, tc)
	}
	if alreadySubscribed {
		return nil
	}
	sm.enqueueCycle(name, false)
	return nil
}

// PauseSync removes name's remote-change subscription and stops its
// poll loop; already-queued change-log entries remain and resume on the
// next StartSync.
func (sm *SyncManager) PauseSync(name string) error {
	tc, err := sm.lookup(name)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	tc.subscribed = false
	if tc.pollRunning {
		close(tc.stopPoll)
		tc.pollRunning = false
	}
	tc.mu.Unlock()
	return nil
}

// SyncAll enqueues a cycle for every registered collection.
func (sm *SyncManager) SyncAll(ctx context.Context) {
	sm.mu.Lock()
	names := make([]string, 0, len(sm.collections))
	for name := range sm.collections {
		names = append(names, name)
	}
	sm.mu.Unlock()
	for _, name := range names {
		sm.enqueueCycle(name, false)
	}
}

// Dispose unsubscribes from remote changes, stops every poll loop,
// rejects any queued sync work, and releases bookkeeping storage.
func (sm *SyncManager) Dispose(ctx context.Context) error {
	if sm.unsubscribeRemote != nil {
		sm.unsubscribeRemote()
	}
	sm.mu.Lock()
	for _, tc := range sm.collections {
		tc.mu.Lock()
		if tc.pollRunning {
			close(tc.stopPoll)
			tc.pollRunning = false
		}
		tc.mu.Unlock()
	}
	sm.mu.Unlock()

	sm.tasks.Dispose()
	return sm.store.Dispose(ctx)
}

func (sm *SyncManager) lookup(name string) (*trackedCollection, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	tc, ok := sm.collections[name]
	if !ok {
		return nil, relayerr.Validation(fmt.Errorf("syncmanager: collection %q is not registered", name))
	}
	return tc, nil
}

// onRemoteChange handles a server-pushed notification. A cycle already
// queued or running for name absorbs this notification (spec: "remote
// changes during a running cycle are coalesced into at most one queued
// cycle"), so only enqueue a fresh one when the key is idle.
func (sm *SyncManager) onRemoteChange(name string) {
	tc, err := sm.lookup(name)
	if err != nil {
		return
	}
	tc.mu.Lock()
	subscribed := tc.subscribed
	tc.mu.Unlock()
	if !subscribed {
		return
	}
	if sm.tasks.HasPending(name) {
		return
	}
	sm.enqueueCycle(name, true)
}

func (sm *SyncManager) pollLoop(name string, tc *trackedCollection) {
	ticker := time.NewTicker(sm.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sm.enqueueCycle(name, false)
		case <-tc.stopPoll:
			return
		}
	}
}

// enqueueCycle submits one sync cycle for name through the task
// serializer, so at most one cycle per collection is ever in flight.
func (sm *SyncManager) enqueueCycle(name string, pullOnly bool) {
	sm.tasks.Add(name, func(ctx context.Context) (interface{}, error) {
		err := sm.runCycle(ctx, name, pullOnly)
		if err != nil {
			sm.retryWithBackoff(name)
			if sm.cfg.OnError != nil {
				sm.cfg.OnError(name, err)
			}
		}
		return nil, err
	})
}

// retryWithBackoff schedules a follow-up cycle after an exponential,
// jittered, capped delay, per spec §4.8's error-handling clause.
func (sm *SyncManager) retryWithBackoff(name string) {
	tc, err := sm.lookup(name)
	if err != nil {
		return
	}
	tc.mu.Lock()
	tc.failures++
	failures := tc.failures
	tc.mu.Unlock()

	delay := backoffDelay(sm.cfg.BackoffBase, sm.cfg.BackoffCap, failures)
	go func() {
		time.Sleep(delay)
		sm.enqueueCycle(name, false)
	}()
}

func backoffDelay(base, capDelay time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := base
	for i := 1; i < failures && delay < capDelay; i++ {
		delay *= 2
	}
	if delay > capDelay {
		delay = capDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay/2 + jitter
}

func resetFailures(tc *trackedCollection) {
	tc.mu.Lock()
	tc.failures = 0
	tc.mu.Unlock()
}
