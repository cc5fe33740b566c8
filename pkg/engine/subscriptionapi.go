package engine

import (
	"github.com/kubohiroya/hierarchidb/pkg/subscription"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// CallbackFunc is the RPC-transport-proxied delivery target a client passes
// to a subscribe call. The real callback lives on the other side of the
// RPC boundary; the engine only ever holds this function
// value (in-process) or, across a real Worker boundary, whatever the
// transport substitutes for it.
type CallbackFunc func(types.ChangeEvent)

type callbackSink struct{ fn CallbackFunc }

func (s callbackSink) Deliver(event types.ChangeEvent) { s.fn(event) }

// SubscriptionAPI is the subscription sub-API, acquired through
// Engine.GetSubscriptionAPI.
type SubscriptionAPI struct {
	broker *subscription.Broker
}

func (s *SubscriptionAPI) SubscribeNode(nodeId types.NodeId, opts types.SubscriptionScope, cb CallbackFunc) (types.SubscriptionId, error) {
	return s.broker.SubscribeNode(nodeId, opts, callbackSink{cb})
}

func (s *SubscriptionAPI) SubscribeSubtree(rootId types.NodeId, opts types.SubscriptionScope, cb CallbackFunc) (types.SubscriptionId, error) {
	return s.broker.SubscribeSubtree(rootId, opts, callbackSink{cb})
}

func (s *SubscriptionAPI) SubscribeTree(treeId types.TreeId, opts types.SubscriptionScope, cb CallbackFunc) (types.SubscriptionId, error) {
	return s.broker.SubscribeTree(treeId, opts, callbackSink{cb})
}

func (s *SubscriptionAPI) Unsubscribe(id types.SubscriptionId)          { s.broker.Unsubscribe(id) }
func (s *SubscriptionAPI) UnsubscribeNode(nodeId types.NodeId)          { s.broker.UnsubscribeNode(nodeId) }
func (s *SubscriptionAPI) UnsubscribeTree(treeId types.TreeId)         { s.broker.UnsubscribeTree(treeId) }
func (s *SubscriptionAPI) UnsubscribeAll()                              { s.broker.UnsubscribeAll() }
func (s *SubscriptionAPI) IsSubscriptionActive(id types.SubscriptionId) bool {
	return s.broker.IsSubscriptionActive(id)
}
func (s *SubscriptionAPI) ListActiveSubscriptions() []types.SubscriptionRecord {
	return s.broker.ListActiveSubscriptions()
}
func (s *SubscriptionAPI) GetSubscriptionStats() types.SubscriptionStats {
	return s.broker.GetSubscriptionStats()
}
// GetRecentEvents backs getRecentEvents(nodeId, limit): the ring buffer
// itself is process-wide, so this filters to nodeId after
// pulling the whole buffer, then applies limit to the filtered tail.
func (s *SubscriptionAPI) GetRecentEvents(nodeId types.NodeId, limit int) []types.ChangeEvent {
	all := s.broker.GetRecentEvents(0)
	var filtered []types.ChangeEvent
	for _, e := range all {
		if nodeId == "" || e.NodeId == nodeId {
			filtered = append(filtered, e)
		}
	}
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// GetEventHistory backs getEventHistory(start, end, nodeId?); endMillis of
// 0 means "through the newest buffered event".
func (s *SubscriptionAPI) GetEventHistory(startMillis, endMillis types.Timestamp, nodeId types.NodeId) []types.ChangeEvent {
	windowed := s.broker.GetEventHistory(startMillis)
	var out []types.ChangeEvent
	for _, e := range windowed {
		if endMillis > 0 && e.At > endMillis {
			continue
		}
		if nodeId != "" && e.NodeId != nodeId {
			continue
		}
		out = append(out, e)
	}
	return out
}
