package ledger

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/gearlocker/internal/custody"
)

// ChangeEvent describes one committed custody transition for subscribers.
type ChangeEvent struct {
	AssetID    string
	Kind       custody.Kind
	OccurredAt time.Time
}

// Notifier consumes change events after a successful commit. Delivery
// semantics are the collaborator's responsibility; failures never affect the
// tap outcome.
type Notifier interface {
	NotifyChange(ctx context.Context, event ChangeEvent) error
}

// MultiNotifier fans one change event out to several notifiers. Each
// notifier sees every event; the first failure is returned after all run.
func MultiNotifier(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

type multiNotifier []Notifier

func (m multiNotifier) NotifyChange(ctx context.Context, event ChangeEvent) error {
	var firstErr error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.NotifyChange(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogNotifier writes change events to the process log.
type LogNotifier struct{}

// NotifyChange implements Notifier.
func (LogNotifier) NotifyChange(_ context.Context, event ChangeEvent) error {
	log.Printf(
		"custody change asset_id=%s kind=%s occurred_at=%s",
		event.AssetID,
		event.Kind,
		event.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	return nil
}

// Broadcaster fans change events out to in-process subscribers. Sends never
// block: a subscriber whose buffer is full misses the event and is expected
// to reconcile from storage.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan ChangeEvent
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a buffered subscriber channel and returns it with a
// cancel function. Cancel is idempotent and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan ChangeEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// NotifyChange implements Notifier.
func (b *Broadcaster) NotifyChange(_ context.Context, event ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}
