package game

import "sync"

// Topic names a listener channel other subsystems can subscribe to.
type Topic string

const (
	// TopicDeviceCount fires whenever the roster changes. Extend-mode
	// boards use it to redistribute widgets across devices.
	TopicDeviceCount Topic = "device-count"
	// TopicConfig fires after a config diff is applied.
	TopicConfig Topic = "config"
	// TopicState fires on started/ended/preview transitions.
	TopicState Topic = "state"
)

// Change is the payload delivered to subscribers; each topic has its
// own concrete variant.
type Change interface {
	Topic() Topic
}

// DeviceCountChange reports the roster after a membership change.
type DeviceCountChange struct {
	Count int
	IDs   []string
}

func (DeviceCountChange) Topic() Topic { return TopicDeviceCount }

// ConfigChange reports the configuration after a config diff.
type ConfigChange struct {
	Config Config
}

func (ConfigChange) Topic() Topic { return TopicConfig }

// StateChange reports coarse lifecycle transitions.
type StateChange struct {
	Started bool
	Ended   bool
	Preview bool
	Reason  string
}

func (StateChange) Topic() Topic { return TopicState }

// Token identifies one subscription for removal.
type Token struct {
	topic Topic
	id    uint64
}

// Listeners is a per-game subscription registry: callbacks keyed by
// topic, with a side index by owner so everything an owner registered
// can be dropped in one call when that owner goes away.
type Listeners struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Topic]map[uint64]func(Change)
	owners map[string][]Token
}

// NewListeners returns an empty registry.
func NewListeners() *Listeners {
	return &Listeners{
		subs:   make(map[Topic]map[uint64]func(Change)),
		owners: make(map[string][]Token),
	}
}

// Subscribe registers fn for the topic on behalf of owner and returns
// a token that removes exactly this subscription.
func (l *Listeners) Subscribe(topic Topic, owner string, fn func(Change)) Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	tok := Token{topic: topic, id: l.nextID}
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[uint64]func(Change))
	}
	l.subs[topic][tok.id] = fn
	l.owners[owner] = append(l.owners[owner], tok)
	return tok
}

// Unsubscribe removes one subscription. Unknown tokens are ignored.
func (l *Listeners) Unsubscribe(tok Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs[tok.topic], tok.id)
}

// UnsubscribeOwner removes every subscription the owner registered.
func (l *Listeners) UnsubscribeOwner(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tok := range l.owners[owner] {
		delete(l.subs[tok.topic], tok.id)
	}
	delete(l.owners, owner)
}

// Notify delivers the change to every subscriber of its topic. The
// callbacks run without the registry lock held, so a callback may
// subscribe or unsubscribe.
func (l *Listeners) Notify(c Change) {
	l.mu.Lock()
	fns := make([]func(Change), 0, len(l.subs[c.Topic()]))
	for _, fn := range l.subs[c.Topic()] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
