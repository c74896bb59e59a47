package events

import (
	"testing"

	"github.com/beaconops/missionctl/internal/notify"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	ev := TransitionEvent{
		NotificationID: "ntf_1",
		TaskID:         "task-1",
		From:           notify.StateQueued,
		To:             notify.StateDelivering,
		At:             1000,
	}
	b.Publish(ev)

	for i, ch := range []<-chan TransitionEvent{ch1, ch2} {
		select {
		case got := <-ch:
			if got != ev {
				t.Errorf("subscriber %d got %+v, want %+v", i, got, ev)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	// Second publish must not block even though the buffer is full.
	b.Publish(TransitionEvent{NotificationID: "ntf_1"})
	b.Publish(TransitionEvent{NotificationID: "ntf_2"})

	got := <-ch
	if got.NotificationID != "ntf_1" {
		t.Errorf("got %q, want ntf_1", got.NotificationID)
	}
	select {
	case ev := <-ch:
		t.Errorf("expected dropped event, got %+v", ev)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	b.Publish(TransitionEvent{NotificationID: "ntf_1"})
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch, _ := b.Subscribe(1)
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after broadcaster Close")
	}

	// Subscribing after close yields a closed channel.
	ch2, cancel := b.Subscribe(1)
	defer cancel()
	if _, ok := <-ch2; ok {
		t.Error("expected closed channel when subscribing after Close")
	}
}
