package subscription

import (
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// eventContext is resolved once per Publish call and handed to every
// subscriber's matcher, so N subscribers don't each re-walk the ancestor
// chain for the same event.
type eventContext struct {
	nodeType  string          // "" if the node no longer exists (e.g. after removePermanent)
	ancestors []*types.TreeNode // event.NodeId's chain to root, nearest-first; nil if unresolved
}

func resolveEventContext(reader *tree.Reader, event types.ChangeEvent) eventContext {
	var ctx eventContext
	if node, err := reader.GetNode(event.NodeId); err == nil && node != nil {
		ctx.nodeType = node.NodeType
	}
	if ancestors, _, err := reader.GetAncestors(event.NodeId); err == nil && len(ancestors) > 0 {
		ctx.ancestors = ancestors
	} else if event.PrevParentId != "" {
		// The node itself may already be gone (removePermanent, or trashed
		// past a later hard delete); fall back to the prior parent's chain
		// so subtree subscribers of an ancestor still see the removal.
		if ancestors, _, err := reader.GetAncestors(event.PrevParentId); err == nil {
			ctx.ancestors = ancestors
		}
	}
	return ctx
}

// matches reports whether scope observes event, given ctx resolved for
// that event.
func matches(scope types.SubscriptionScope, event types.ChangeEvent, ctx eventContext) bool {
	if !matchesHierarchy(scope, event, ctx) {
		return false
	}
	return matchesType(scope, ctx)
}

func matchesHierarchy(scope types.SubscriptionScope, event types.ChangeEvent, ctx eventContext) bool {
	switch scope.Kind {
	case types.ScopeTree:
		return event.TreeId == scope.TreeId
	case types.ScopeNode:
		return event.NodeId == scope.RootId
	case types.ScopeSubtree:
		if event.NodeId == scope.RootId {
			return true
		}
		for depth, ancestor := range ctx.ancestors {
			if ancestor.Id != scope.RootId {
				continue
			}
			if scope.Depth == 0 || depth <= scope.Depth {
				return true
			}
			return false
		}
		return false
	default:
		return false
	}
}

func matchesType(scope types.SubscriptionScope, ctx eventContext) bool {
	if ctx.nodeType == "" {
		return true // can't resolve; don't let type filters suppress deletions
	}
	if len(scope.ExcludeTypes) > 0 {
		for _, t := range scope.ExcludeTypes {
			if t == ctx.nodeType {
				return false
			}
		}
	}
	if len(scope.IncludeTypes) > 0 {
		for _, t := range scope.IncludeTypes {
			if t == ctx.nodeType {
				return true
			}
		}
		return false
	}
	return true
}
