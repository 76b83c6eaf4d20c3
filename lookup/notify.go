package lookup

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/natsclient"
)

// Change origins.
const (
	OriginFresh = "fresh"
	OriginCache = "cache"
	OriginLocal = "local"
)

// DefaultSubjectPrefix prefixes the NATS subject of change notifications;
// the lookup id is appended.
const DefaultSubjectPrefix = "lookup.changed"

// instanceID identifies this process in published changes so it can ignore
// its own notifications.
var instanceID = uuid.NewString()

// InstanceID returns the identifier stamped on changes published by this
// process.
func InstanceID() string { return instanceID }

// Change announces a new version of a lookup's data.
type Change struct {
	Lookup  string    `json:"lookup"`
	Version uint64    `json:"version"`
	Origin  string    `json:"origin"`
	Source  string    `json:"source"`
	Time    time.Time `json:"time"`
}

// NewChange stamps a change with this process's identity and the current
// time.
func NewChange(lookupID string, version uint64, origin string) Change {
	return Change{
		Lookup:  lookupID,
		Version: version,
		Origin:  origin,
		Source:  instanceID,
		Time:    time.Now().UTC(),
	}
}

// Local reports whether the change was published by this process.
func (c Change) Local() bool { return c.Source == instanceID }

// Notifier publishes changes.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// Notifiers fans a change out to several notifiers and joins their errors.
type Notifiers []Notifier

// Notify calls every notifier.
func (ns Notifiers) Notify(ctx context.Context, change Change) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("notify %s: %w", change.Lookup, stderrors.Join(errs...))
}

// Broker delivers changes to in-process subscribers. Delivery never blocks
// the publisher: a subscriber whose buffer is full misses the change.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	logger *slog.Logger
}

type subscription struct {
	lookup string
	ch     chan Change
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[int]*subscription),
		logger: logger.With("component", "broker"),
	}
}

// Subscribe returns a channel receiving changes of lookupID, or of every
// lookup when lookupID is empty. cancel closes the channel.
func (b *Broker) Subscribe(lookupID string, buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscription{lookup: lookupID, ch: make(chan Change, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Notify delivers change to matching subscribers.
func (b *Broker) Notify(_ context.Context, change Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.lookup != "" && sub.lookup != change.Lookup {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			b.logger.Debug("Dropping change for slow subscriber", "lookup", change.Lookup, "version", change.Version)
		}
	}
	return nil
}

// NATSNotifier publishes changes as JSON on <prefix>.<lookup id>.
type NATSNotifier struct {
	client *natsclient.Client
	prefix string
	logger *slog.Logger
}

// NewNATSNotifier publishes through client. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSNotifier(client *natsclient.Client, prefix string, logger *slog.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "nats-notifier"),
	}
}

// Subject returns the subject changes of lookupID are published on.
func (n *NATSNotifier) Subject(lookupID string) string {
	return n.prefix + "." + lookupID
}

// Notify publishes change.
func (n *NATSNotifier) Notify(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return errors.WrapInvalid(err, "NATSNotifier", "Notify", "marshal change")
	}
	if err := n.client.Publish(ctx, n.Subject(change.Lookup), data); err != nil {
		return errors.WrapTransient(err, "NATSNotifier", "Notify", "publish change")
	}
	return nil
}

// Subscribe calls fn for every change of lookupID published by another
// process. Pass "*" to receive every lookup. The returned function
// unsubscribes.
func (n *NATSNotifier) Subscribe(ctx context.Context, lookupID string, fn func(Change)) (func() error, error) {
	return n.client.Subscribe(ctx, n.Subject(lookupID), func(_ context.Context, data []byte) {
		var change Change
		if err := json.Unmarshal(data, &change); err != nil {
			n.logger.Warn("Ignoring malformed change", "error", err)
			return
		}
		if change.Local() {
			return
		}
		fn(change)
	})
}
