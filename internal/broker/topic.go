package broker

import (
	"strings"
	"sync"

	"github.com/riftmq/broker/pkg/er"
)

const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// topicNode is one level of the subscription trie. subs holds every
// subscription whose filter terminates exactly at this node, keyed by
// clientID so a client re-subscribing the same filter overwrites its QoS
// (spec.md §4.1).
type topicNode struct {
	children map[string]*topicNode
	subs     map[string]Subscription
}

func newTopicNode() *topicNode {
	return &topicNode{children: make(map[string]*topicNode), subs: make(map[string]Subscription)}
}

func (n *topicNode) empty() bool {
	return len(n.children) == 0 && len(n.subs) == 0
}

// TopicMatcher is the hierarchical trie of subscriptions (C1). It is
// internally synchronized; readers see a consistent snapshot but are not
// strongly serialized against writers (spec.md §5).
type TopicMatcher struct {
	mu   sync.RWMutex
	root *topicNode
}

// NewTopicMatcher constructs an empty matcher.
func NewTopicMatcher() *TopicMatcher {
	return &TopicMatcher{root: newTopicNode()}
}

// ValidateFilter rejects an empty filter, a '#' that is not the final
// token, or a '+'/'#' sharing a level with other characters (spec.md §3,
// §4.1 Validate).
func ValidateFilter(filter string) error {
	if filter == "" {
		return &er.Err{Context: "TopicMatcher", Message: er.ErrInvalidTopicFilter}
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if level == multiLevelWildcard {
			if i != len(levels)-1 {
				return &er.Err{Context: "TopicMatcher", Message: er.ErrInvalidTopicFilter}
			}
			continue
		}
		if strings.Contains(level, multiLevelWildcard) {
			return &er.Err{Context: "TopicMatcher", Message: er.ErrInvalidTopicFilter}
		}
		if level == singleLevelWildcard {
			continue
		}
		if strings.Contains(level, singleLevelWildcard) {
			return &er.Err{Context: "TopicMatcher", Message: er.ErrInvalidTopicFilter}
		}
	}
	return nil
}

// ValidateTopicName rejects wildcards and empty topic names; a PUBLISH
// topic must be a concrete topic, never a filter.
func ValidateTopicName(topic string) error {
	if topic == "" || strings.Contains(topic, singleLevelWildcard) || strings.Contains(topic, multiLevelWildcard) {
		return &er.Err{Context: "TopicMatcher", Message: er.ErrInvalidTopicName}
	}
	return nil
}

// Add inserts or replaces sub. Re-adding the same (clientID, filter) with
// a different QoS overwrites the previous value (spec.md §4.1 Add).
func (m *TopicMatcher) Add(sub Subscription) error {
	if err := ValidateFilter(sub.TopicFilter); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, level := range strings.Split(sub.TopicFilter, "/") {
		child, ok := node.children[level]
		if !ok {
			child = newTopicNode()
			node.children[level] = child
		}
		node = child
	}
	node.subs[sub.ClientID] = sub
	return nil
}

// Remove deletes the (clientID, filter) subscription and prunes empty
// nodes bottom-up (spec.md §4.1 Remove).
func (m *TopicMatcher) Remove(filter, clientID string) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLevels(m.root, strings.Split(filter, "/"), 0, clientID)
	return nil
}

// removeLevels walks to the terminal node, deletes clientID's subscription,
// then unwinds the recursion pruning any node left empty.
func (m *TopicMatcher) removeLevels(node *topicNode, levels []string, i int, clientID string) (prune bool) {
	if i == len(levels) {
		delete(node.subs, clientID)
		return node.empty()
	}
	child, ok := node.children[levels[i]]
	if !ok {
		return false
	}
	if m.removeLevels(child, levels, i+1, clientID) {
		delete(node.children, levels[i])
	}
	return node.empty()
}

// UnsubscribeAll removes every subscription belonging to clientID across
// the whole tree; used on disconnect (spec.md §4.6/§4.7bis).
func (m *TopicMatcher) UnsubscribeAll(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneClient(m.root, clientID)
}

func (m *TopicMatcher) pruneClient(node *topicNode, clientID string) (prune bool) {
	delete(node.subs, clientID)
	for level, child := range node.children {
		if m.pruneClient(child, clientID) {
			delete(node.children, level)
		}
	}
	return node.empty()
}

// Match walks the tree level by level, following the exact-token child,
// the '+' child, and contributing every subscription beneath a '#' child.
// Duplicates (same clientID reached via multiple wildcard branches) are
// permitted; the publisher collapses them per-client (spec.md §4.1 Match).
func (m *TopicMatcher) Match(topic string) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	levels := strings.Split(topic, "/")
	var out []Subscription
	m.matchLevels(m.root, levels, 0, &out)
	return out
}

func (m *TopicMatcher) matchLevels(node *topicNode, levels []string, i int, out *[]Subscription) {
	if multi, ok := node.children[multiLevelWildcard]; ok {
		for _, s := range multi.subs {
			*out = append(*out, s)
		}
	}

	if i == len(levels) {
		for _, s := range node.subs {
			*out = append(*out, s)
		}
		return
	}

	if child, ok := node.children[levels[i]]; ok {
		m.matchLevels(child, levels, i+1, out)
	}
	if plus, ok := node.children[singleLevelWildcard]; ok {
		m.matchLevels(plus, levels, i+1, out)
	}
}

// GetSubscriptions returns every subscription currently held by clientID,
// across all filters.
func (m *TopicMatcher) GetSubscriptions(clientID string) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	m.collectClient(m.root, clientID, &out)
	return out
}

func (m *TopicMatcher) collectClient(node *topicNode, clientID string, out *[]Subscription) {
	if s, ok := node.subs[clientID]; ok {
		*out = append(*out, s)
	}
	for _, child := range node.children {
		m.collectClient(child, clientID, out)
	}
}
