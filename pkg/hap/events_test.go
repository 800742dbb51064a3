package hap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventQueueCoalesce(t *testing.T) {
	q := newEventQueue(4)

	id1 := CharID{AID: 2, IID: 9}
	id2 := CharID{AID: 2, IID: 10}

	require.True(t, q.Push(id1, int64(1)))
	require.True(t, q.Push(id2, true))
	require.True(t, q.Push(id1, int64(2)))
	require.True(t, q.Push(id1, int64(3)))

	require.Equal(t, 2, q.Len())

	items := q.Pop()
	require.Equal(t, []event{{id: id1, value: int64(3)}, {id: id2, value: true}}, items)
	require.Equal(t, 0, q.Len())

	select {
	case <-q.signal:
	default:
		t.Fatal("no signal")
	}
}

func TestEventQueueDropOldest(t *testing.T) {
	q := newEventQueue(2)

	require.True(t, q.Push(CharID{AID: 2, IID: 1}, 1))
	require.True(t, q.Push(CharID{AID: 2, IID: 2}, 2))
	require.False(t, q.Push(CharID{AID: 2, IID: 3}, 3))

	items := q.Pop()
	require.Len(t, items, 2)
	require.Equal(t, uint64(2), items[0].id.IID)
	require.Equal(t, uint64(3), items[1].id.IID)
}

func TestEventQueueDefaultSize(t *testing.T) {
	q := newEventQueue(0)
	for i := 0; i < DefaultEventQueueSize; i++ {
		require.True(t, q.Push(CharID{AID: 2, IID: uint64(i)}, i))
	}
	require.False(t, q.Push(CharID{AID: 3, IID: 1}, 0))
	require.Equal(t, DefaultEventQueueSize, q.Len())
}

func TestMarshalEvent(t *testing.T) {
	b, err := MarshalEvent([]JSONCharacter{{AID: 2, IID: 10, Value: true}})
	require.Nil(t, err)

	body := `{"characteristics":[{"aid":2,"iid":10,"value":true}]}`
	require.Equal(t, "EVENT/1.0 200 OK\r\n", string(b[:18]))
	require.Contains(t, string(b), "Content-Type: application/hap+json\r\n")
	require.Contains(t, string(b), "Content-Length: 53\r\n")
	require.Equal(t, body, string(b[len(b)-len(body):]))
}
