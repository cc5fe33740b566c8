package subscription

import (
	"sync"
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/log"
	"github.com/kubohiroya/hierarchidb/pkg/metrics"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// queueHighWaterMark is the per-subscription queue bound.
	queueHighWaterMark = 1024
	// debounceWindow coalesces consecutive `updated` events on the same
	// node arriving within this window (16ms default) into a single
	// delivery of the latest state.
	debounceWindow = 16 * time.Millisecond
	// recentEventsCapacity bounds the in-memory event ring buffer.
	recentEventsCapacity = 10000
)

// Sink is the opaque delivery target a subscription proxies to: the core
// side holds an opaque reference and invokes it via the RPC transport. The
// subscription package never knows what's on the other end of a Sink — the
// engine's RPC layer supplies the real implementation.
type Sink interface {
	Deliver(event types.ChangeEvent)
}

type subscriber struct {
	id          types.SubscriptionId
	scope       types.SubscriptionScope
	treeId      types.TreeId
	callbackRef string
	sink        Sink

	mu              sync.Mutex
	queue           []types.ChangeEvent
	lastDeliveredAt types.Timestamp
	resyncPending   bool
	flushTimer      *time.Timer
}

// Broker is the engine-scoped subscription fabric. It implements
// command.EventSink so the pipeline can publish into it without either
// package importing the other's concrete type.
//
// An ingest-channel-plus-fan-out core is layered with scope matching,
// per-node debounce coalescing, and high-water-mark back-pressure on top
// of a flat event stream.
type Broker struct {
	mu     sync.RWMutex
	subs   map[types.SubscriptionId]*subscriber
	reader *tree.Reader
	ring   *eventRing
	logger zerolog.Logger
}

func NewBroker(reader *tree.Reader) *Broker {
	return &Broker{
		subs:   make(map[types.SubscriptionId]*subscriber),
		reader: reader,
		ring:   newEventRing(recentEventsCapacity),
		logger: log.WithComponent("subscription"),
	}
}

func (b *Broker) subscribe(scope types.SubscriptionScope, sink Sink) (*subscriber, error) {
	treeId, err := b.resolveTreeId(scope)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{
		id:          types.NewSubscriptionId(),
		scope:       scope,
		treeId:      treeId,
		callbackRef: string(types.NewSubscriptionId()),
		sink:        sink,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	metrics.SubscriptionsActive.WithLabelValues(string(scope.Kind)).Inc()

	initial := types.ChangeEvent{Type: types.EventInitial, NodeId: scope.RootId, TreeId: treeId, At: nowMillis()}
	sub.deliver(initial)
	b.logger.Debug().Str("subscriptionId", string(sub.id)).Str("scope", string(scope.Kind)).Msg("subscribed")
	return sub, nil
}

func (b *Broker) resolveTreeId(scope types.SubscriptionScope) (types.TreeId, error) {
	if scope.Kind == types.ScopeTree {
		return scope.TreeId, nil
	}
	node, err := b.reader.GetNode(scope.RootId)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", enginerr.Newf(enginerr.UnknownNode, "subscription root %s not found", scope.RootId)
	}
	return node.TreeId, nil
}

// SubscribeNode observes a single node.
func (b *Broker) SubscribeNode(nodeId types.NodeId, opts types.SubscriptionScope, sink Sink) (types.SubscriptionId, error) {
	opts.Kind, opts.RootId = types.ScopeNode, nodeId
	sub, err := b.subscribe(opts, sink)
	if err != nil {
		return "", err
	}
	return sub.id, nil
}

// SubscribeSubtree observes rootId and its descendants, bounded by
// opts.Depth (0 = unbounded).
func (b *Broker) SubscribeSubtree(rootId types.NodeId, opts types.SubscriptionScope, sink Sink) (types.SubscriptionId, error) {
	opts.Kind, opts.RootId = types.ScopeSubtree, rootId
	sub, err := b.subscribe(opts, sink)
	if err != nil {
		return "", err
	}
	return sub.id, nil
}

// SubscribeTree observes every event in treeId.
func (b *Broker) SubscribeTree(treeId types.TreeId, opts types.SubscriptionScope, sink Sink) (types.SubscriptionId, error) {
	opts.Kind, opts.TreeId = types.ScopeTree, treeId
	sub, err := b.subscribe(opts, sink)
	if err != nil {
		return "", err
	}
	return sub.id, nil
}

// Unsubscribe cancels a single subscription by id. No-op if already gone.
func (b *Broker) Unsubscribe(id types.SubscriptionId) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		metrics.SubscriptionsActive.WithLabelValues(string(sub.scope.Kind)).Dec()
		b.logger.Debug().Str("subscriptionId", string(id)).Msg("unsubscribed")
	}
}

// UnsubscribeNode cancels every subscription whose scope is the given node
// (node or subtree scope with that root).
func (b *Broker) UnsubscribeNode(nodeId types.NodeId) {
	b.unsubscribeWhere(func(s *subscriber) bool {
		return (s.scope.Kind == types.ScopeNode || s.scope.Kind == types.ScopeSubtree) && s.scope.RootId == nodeId
	})
}

// UnsubscribeTree cancels every subscription scoped to treeId, at any
// granularity.
func (b *Broker) UnsubscribeTree(treeId types.TreeId) {
	b.unsubscribeWhere(func(s *subscriber) bool { return s.treeId == treeId })
}

// UnsubscribeAll cancels every subscription, e.g. on engine shutdown.
func (b *Broker) UnsubscribeAll() {
	b.unsubscribeWhere(func(*subscriber) bool { return true })
}

func (b *Broker) unsubscribeWhere(match func(*subscriber) bool) {
	b.mu.Lock()
	var doomed []*subscriber
	for id, s := range b.subs {
		if match(s) {
			doomed = append(doomed, s)
			delete(b.subs, id)
		}
	}
	b.mu.Unlock()
	for _, s := range doomed {
		metrics.SubscriptionsActive.WithLabelValues(string(s.scope.Kind)).Dec()
	}
}

// IsSubscriptionActive reports whether id still has a live registration.
func (b *Broker) IsSubscriptionActive(id types.SubscriptionId) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[id]
	return ok
}

// ListActiveSubscriptions returns every currently-registered subscription.
func (b *Broker) ListActiveSubscriptions() []types.SubscriptionRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.SubscriptionRecord, 0, len(b.subs))
	for _, s := range b.subs {
		s.mu.Lock()
		out = append(out, types.SubscriptionRecord{
			SubscriptionId: s.id, Scope: s.scope, CallbackRef: s.callbackRef, LastDeliveredAt: s.lastDeliveredAt,
		})
		s.mu.Unlock()
	}
	return out
}

// GetSubscriptionStats backs getSubscriptionStats.
func (b *Broker) GetSubscriptionStats() types.SubscriptionStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := types.SubscriptionStats{TotalActive: len(b.subs), ByScope: map[types.ScopeKind]int{}}
	for _, s := range b.subs {
		stats.ByScope[s.scope.Kind]++
	}
	recent := b.ring.recent(0)
	cutoff := nowMillis() - 24*60*60*1000
	var latencySum float64
	var latencyCount int
	for _, e := range recent {
		if e.At < cutoff {
			continue
		}
		stats.EventsProcessed24h++
		latencySum += float64(nowMillis() - e.At)
		latencyCount++
	}
	if latencyCount > 0 {
		stats.AvgLatencyMillis = latencySum / float64(latencyCount)
	}
	return stats
}

// GetRecentEvents returns up to n of the most recently published events,
// oldest first, across all subscriptions.
func (b *Broker) GetRecentEvents(n int) []types.ChangeEvent { return b.ring.recent(n) }

// GetEventHistory returns every buffered event since fromMillis, oldest
// first.
func (b *Broker) GetEventHistory(fromMillis types.Timestamp) []types.ChangeEvent {
	return b.ring.since(fromMillis)
}

// Publish implements command.EventSink. Events are resolved against every
// live subscription's scope and delivered synchronously to matching ones,
// in the order they commit, per subscription — a single Publish call is
// serialized by the pipeline's own write lock, so there is never a second
// Publish racing this one.
func (b *Broker) Publish(event types.ChangeEvent) {
	b.ring.push(event)
	ctx := resolveEventContext(b.reader, event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if matches(sub.scope, event, ctx) {
			sub.deliver(event)
			metrics.SubscriptionQueueDepth.WithLabelValues(string(sub.id)).Set(float64(sub.queueLen()))
		}
	}
}

func (s *subscriber) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// deliver enqueues event for in-order delivery to the sink. `updated`
// events on the same node within debounceWindow of the queue tail coalesce
// into that tail entry rather than appending a new one, and are flushed
// only once the debounce timer fires — giving a burst of rapid updates on
// one node a chance to collapse into a single delivery — a burst of
// updateNode commands within the debounce window can deliver anywhere
// from one event up to the full count. `created`/`moved`/`removed` never
// coalesce and flush immediately, preserving commit order for the rest of
// the queue too.
// Once the queue reaches queueHighWaterMark, further `updated` events are
// dropped in favor of a single resyncHint.
func (s *subscriber) deliver(event types.ChangeEvent) {
	s.mu.Lock()

	if event.Type == types.EventUpdated && len(s.queue) > 0 {
		tail := &s.queue[len(s.queue)-1]
		if tail.Type == types.EventUpdated && tail.NodeId == event.NodeId {
			*tail = event
			metrics.EventsCoalescedTotal.Inc()
			s.scheduleFlushLocked()
			s.mu.Unlock()
			return
		}
	}

	if event.Type == types.EventUpdated && len(s.queue) >= queueHighWaterMark {
		metrics.EventsDroppedTotal.Inc()
		if !s.resyncPending {
			s.resyncPending = true
			s.queue = append(s.queue, types.ChangeEvent{
				Type: types.EventResyncHint, NodeId: s.scope.RootId, TreeId: s.treeId, At: event.At,
			})
		}
		s.scheduleFlushLocked()
		s.mu.Unlock()
		return
	}

	s.queue = append(s.queue, event)
	if event.Type != types.EventUpdated {
		s.mu.Unlock()
		s.flush()
		return
	}
	s.scheduleFlushLocked()
	s.mu.Unlock()
}

// scheduleFlushLocked arms the debounce timer if one isn't already
// pending. Caller holds s.mu.
func (s *subscriber) scheduleFlushLocked() {
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(debounceWindow, s.flush)
}

// flush drains the queue to the sink in order. Never runs concurrently
// with itself for a given subscriber — callbacks for the same subscription
// never overlap — since it's the only path that calls sink.Deliver and is
// always invoked with the queue snapshotted under the lock first.
func (s *subscriber) flush() {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	pending := s.queue
	s.queue = nil
	s.resyncPending = false
	s.mu.Unlock()

	for _, e := range pending {
		s.sink.Deliver(e)
		s.mu.Lock()
		s.lastDeliveredAt = nowMillis()
		s.mu.Unlock()
	}
}
