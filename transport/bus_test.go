package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/vibechat/model"
)

func mustEvent(t *testing.T, typ model.EventType, payload any) model.Event {
	t.Helper()
	ev, err := model.NewEvent(typ, payload)
	require.NoError(t, err)
	return ev
}

func TestBus_DispatchPresence(t *testing.T) {
	bus := NewBus(nil)
	var got [][]string
	bus.OnPresence(func(online []string) { got = append(got, online) })

	require.NoError(t, bus.Dispatch(mustEvent(t, model.EventPresenceSnapshot, []string{"a", "b"})))
	require.NoError(t, bus.Dispatch(mustEvent(t, model.EventPresenceSnapshot, nil)))

	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, got[0])
	assert.NotNil(t, got[1])
	assert.Empty(t, got[1])
}

func TestBus_DispatchMessageInOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.OnNewMessage(func(m model.Message) { order = append(order, "first:"+m.ID) })
	bus.OnNewMessage(func(m model.Message) { order = append(order, "second:"+m.ID) })

	msg := model.Message{ID: "m1", SenderID: "bob", Text: "hi", CreatedAt: time.Now()}
	require.NoError(t, bus.Dispatch(mustEvent(t, model.EventNewMessage, msg)))

	assert.Equal(t, []string{"first:m1", "second:m1"}, order)
}

func TestBus_RejectsInvalidMessage(t *testing.T) {
	bus := NewBus(nil)
	called := false
	bus.OnNewMessage(func(model.Message) { called = true })

	err := bus.Dispatch(mustEvent(t, model.EventNewMessage, model.Message{ID: "m1", SenderID: "bob"}))
	assert.ErrorIs(t, err, model.ErrEmptyMessage)
	assert.False(t, called)

	err = bus.Dispatch(model.Event{Type: model.EventNewMessage, Payload: []byte(`"nope"`)})
	assert.Error(t, err)
}

func TestBus_UnknownEventIgnored(t *testing.T) {
	bus := NewBus(nil)
	assert.NoError(t, bus.Dispatch(model.Event{Type: "typing", Payload: []byte(`{}`)}))
}

func TestSubscription_UnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	a := bus.OnNewMessage(func(model.Message) { calls++ })
	b := bus.OnNewMessage(func(model.Message) { calls += 10 })
	assert.NotEqual(t, a.ID(), b.ID())

	a.Unsubscribe()
	a.Unsubscribe()
	_, n := bus.Count()
	assert.Equal(t, 1, n)

	msg := model.Message{ID: "m1", SenderID: "bob", Text: "hi", CreatedAt: time.Now()}
	require.NoError(t, bus.Dispatch(mustEvent(t, model.EventNewMessage, msg)))
	assert.Equal(t, 10, calls)

	b.Unsubscribe()
	_, n = bus.Count()
	assert.Zero(t, n)

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Unsubscribe)
}

func TestBus_HandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	bus := NewBus(nil)
	var sub *Subscription
	calls := 0
	sub = bus.OnPresence(func([]string) {
		calls++
		sub.Unsubscribe()
	})

	require.NoError(t, bus.Dispatch(mustEvent(t, model.EventPresenceSnapshot, []string{"a"})))
	require.NoError(t, bus.Dispatch(mustEvent(t, model.EventPresenceSnapshot, []string{"a"})))
	assert.Equal(t, 1, calls)
}
