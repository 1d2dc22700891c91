package engine_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/flux/internal/engine"
)

func drain(ch <-chan engine.LogEvent) []engine.LogEvent {
	var got []engine.LogEvent
	for ev := range ch {
		got = append(got, ev)
	}
	return got
}

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	want := []engine.LogEvent{{0, "line 1"}, {1, "line 2"}, {2, "line 3"}}
	for _, ev := range want {
		assert.Zero(t, b.Publish("inv1", ev))
	}
	b.Close("inv1")

	assert.Equal(t, want, drain(ch))
}

func TestLogBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe("inv1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("inv1")
	defer unsub2()

	b.Publish("inv1", engine.LogEvent{Seq: 0, Line: "hello"})
	b.Close("inv1")

	want := []engine.LogEvent{{0, "hello"}}
	assert.Equal(t, want, drain(ch1))
	assert.Equal(t, want, drain(ch2))
}

func TestLogBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish("inv1", engine.LogEvent{Line: "early"})
	b.Close("inv1")

	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	_, ok := <-ch
	assert.False(t, ok, "late subscriber should get a closed channel")
}

func TestLogBrokerCloseWithoutSubscribers(t *testing.T) {
	b := engine.NewLogBroker()
	b.Close("never-published")

	ch, _ := b.Subscribe("never-published")
	_, ok := <-ch
	assert.False(t, ok)
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("inv1")
	unsub()

	b.Publish("inv1", engine.LogEvent{Line: "after unsub"})
	b.Close("inv1")

	select {
	case ev, ok := <-ch:
		assert.False(t, ok, "got unexpected event %v after unsubscribe", ev)
	default:
	}
}

func TestLogBrokerPublishToUnknownInvocationIsNoop(t *testing.T) {
	b := engine.NewLogBroker()
	assert.Zero(t, b.Publish("nonexistent", engine.LogEvent{Line: "line"}))
	assert.Zero(t, b.Dropped("nonexistent"))
}

func TestLogBrokerSlowSubscriberDropsEvents(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	const extra = 5
	missed := 0
	for i := range 64 + extra {
		missed += b.Publish("inv1", engine.LogEvent{Seq: i, Line: fmt.Sprint(i)})
	}
	b.Close("inv1")

	assert.Equal(t, extra, missed)
	assert.Equal(t, extra, b.Dropped("inv1"))

	got := drain(ch)
	require.Len(t, got, 64)
	assert.Equal(t, 63, got[len(got)-1].Seq)
}

func TestLogBrokerLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe("inv1")
	defer unsub1()

	b.Publish("inv1", engine.LogEvent{Seq: 0, Line: "line 1"})

	ch2, unsub2 := b.Subscribe("inv1")
	defer unsub2()

	b.Publish("inv1", engine.LogEvent{Seq: 1, Line: "line 2"})
	b.Close("inv1")

	assert.Len(t, drain(ch1), 2)
	assert.Equal(t, []engine.LogEvent{{1, "line 2"}}, drain(ch2))
}
