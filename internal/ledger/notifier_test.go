package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/gearlocker/internal/custody"
)

var errTestSubscriber = errors.New("subscriber failed")

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	first, cancelFirst := b.Subscribe(1)
	defer cancelFirst()
	second, cancelSecond := b.Subscribe(1)
	defer cancelSecond()

	event := ChangeEvent{AssetID: "cam-1", Kind: custody.KindAcquire, OccurredAt: time.Now().UTC()}
	if err := b.NotifyChange(context.Background(), event); err != nil {
		t.Fatalf("NotifyChange() = %v", err)
	}

	for i, ch := range []<-chan ChangeEvent{first, second} {
		select {
		case got := <-ch:
			if got.AssetID != event.AssetID || got.Kind != event.Kind {
				t.Fatalf("subscriber %d got %+v", i, got)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBroadcasterDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	ctx := context.Background()
	if err := b.NotifyChange(ctx, ChangeEvent{AssetID: "cam-1", Kind: custody.KindAcquire}); err != nil {
		t.Fatalf("NotifyChange() = %v", err)
	}
	// Buffer is full; this event is dropped rather than blocking.
	if err := b.NotifyChange(ctx, ChangeEvent{AssetID: "cam-2", Kind: custody.KindRelease}); err != nil {
		t.Fatalf("NotifyChange() = %v", err)
	}

	got := <-ch
	if got.AssetID != "cam-1" {
		t.Fatalf("got.AssetID = %q, want cam-1", got.AssetID)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestMultiNotifierDeliversToAll(t *testing.T) {
	t.Parallel()

	first := &recordingNotifier{}
	second := &recordingNotifier{err: errTestSubscriber}
	third := &recordingNotifier{}
	combined := MultiNotifier(first, nil, second, third)

	event := ChangeEvent{AssetID: "cam-1", Kind: custody.KindRelease}
	if err := combined.NotifyChange(context.Background(), event); err != errTestSubscriber {
		t.Fatalf("NotifyChange() = %v, want first failure %v", err, errTestSubscriber)
	}
	for i, notifier := range []*recordingNotifier{first, second, third} {
		if events := notifier.snapshot(); len(events) != 1 {
			t.Fatalf("notifier %d saw %d events, want 1", i, len(events))
		}
	}
}

func TestBroadcasterCancelClosesChannelOnce(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)

	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	if err := b.NotifyChange(context.Background(), ChangeEvent{AssetID: "cam-1"}); err != nil {
		t.Fatalf("NotifyChange() after cancel = %v", err)
	}
}
