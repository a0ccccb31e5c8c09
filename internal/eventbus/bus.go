// Package eventbus fans lifecycle events out to subscribers with bounded
// buffering, deduplication and a drop policy that protects terminal events.
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kingrea/plugd/internal/lifecycle"
)

const (
	defaultSubscriberCapacity = 64
	defaultBacklogLimit       = 32
	defaultDedupeWindow       = 1024
)

// Option customizes Bus construction.
type Option func(*Bus)

// WithLogger injects a logger for drop diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSubscriberCapacity overrides the buffered channel size per subscriber.
func WithSubscriberCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.channelSize = n
		}
	}
}

// WithBacklogLimit overrides how many unclaimed events are held for late
// subscribers.
func WithBacklogLimit(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.backlogLimit = n
		}
	}
}

// WithDedupeWindow controls how many recent event IDs are retained.
func WithDedupeWindow(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.dedupeWindow = n
		}
	}
}

// Bus implements lifecycle.Dispatcher. Dispatch never blocks.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[*subscriber]struct{}
	backlog      []lifecycle.Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       *zap.Logger
}

var _ lifecycle.Dispatcher = (*Bus)(nil)

// Subscription is an active event stream.
type Subscription struct {
	Events <-chan lifecycle.Event
	cancel func()
}

// Close terminates the subscription and closes Events.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// New constructs a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers:  map[*subscriber]struct{}{},
		recentIDs:    map[string]struct{}{},
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.recentOrder = make([]string, 0, b.dedupeWindow)
	return b
}

// Subscribe registers for the given kinds, or every kind when none are
// given. Buffered events that no earlier subscriber claimed are replayed
// first.
func (b *Bus) Subscribe(kinds ...lifecycle.Kind) Subscription {
	sub := newSubscriber(b.channelSize, kinds, b.logger)
	var replay []lifecycle.Event
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	if len(b.backlog) > 0 {
		kept := b.backlog[:0]
		for _, evt := range b.backlog {
			if sub.wants(evt.Kind) {
				replay = append(replay, evt)
				continue
			}
			kept = append(kept, evt)
		}
		b.backlog = kept
	}
	b.mu.Unlock()
	for _, evt := range replay {
		sub.deliver(evt)
	}
	return Subscription{
		Events: sub.ch,
		cancel: func() { b.remove(sub) },
	}
}

// Dispatch routes evt to matching subscribers or buffers it when nobody is
// listening for its kind.
func (b *Bus) Dispatch(evt lifecycle.Event) {
	if evt.ID != "" && b.isDuplicate(evt.ID) {
		return
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		if sub.wants(evt.Kind) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()
	if len(targets) == 0 {
		b.buffer(evt)
		return
	}
	for _, sub := range targets {
		sub.deliver(evt)
	}
}

// Close terminates every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = map[*subscriber]struct{}{}
	b.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	sub.close()
}

func (b *Bus) buffer(evt lifecycle.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.backlog) >= b.backlogLimit {
		b.logger.Debug("eventbus: backlog drop",
			zap.String("kind", string(b.backlog[0].Kind)),
			zap.Int("limit", b.backlogLimit),
		)
		b.backlog = b.backlog[1:]
	}
	b.backlog = append(b.backlog, evt)
}

func (b *Bus) isDuplicate(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[id]; ok {
		return true
	}
	b.recentIDs[id] = struct{}{}
	b.recentOrder = append(b.recentOrder, id)
	if len(b.recentOrder) > b.dedupeWindow {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	kinds  map[lifecycle.Kind]struct{}
	logger *zap.Logger

	mu     sync.Mutex
	ch     chan lifecycle.Event
	closed bool
}

func newSubscriber(capacity int, kinds []lifecycle.Kind, logger *zap.Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	sub := &subscriber{ch: make(chan lifecycle.Event, capacity), logger: logger}
	if len(kinds) > 0 {
		sub.kinds = make(map[lifecycle.Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	return sub
}

func (s *subscriber) wants(kind lifecycle.Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (s *subscriber) deliver(evt lifecycle.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
		return
	default:
	}
	// full: make room, preferring to keep critical events
	select {
	case oldest := <-s.ch:
		if shouldDropOldest(oldest, evt) {
			s.logDrop(oldest, "queue overflow")
			s.ch <- evt
		} else {
			s.ch <- oldest
			s.logDrop(evt, "queue overflow:incoming")
		}
	default:
		s.ch <- evt
	}
}

func (s *subscriber) logDrop(evt lifecycle.Event, reason string) {
	s.logger.Warn("eventbus: dropped event",
		zap.String("kind", string(evt.Kind)),
		zap.String("plugin", evt.Name),
		zap.String("reason", reason),
	)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func shouldDropOldest(oldest, incoming lifecycle.Event) bool {
	oldestCritical := isCritical(oldest.Kind)
	incomingCritical := isCritical(incoming.Kind)
	if oldestCritical && !incomingCritical {
		return false
	}
	return true
}

// failures and the final all-ready are never displaced by routine events
func isCritical(kind lifecycle.Kind) bool {
	return kind == lifecycle.KindPluginFailed || kind == lifecycle.KindAllReady
}
