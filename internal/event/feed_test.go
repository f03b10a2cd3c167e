package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedSubscribeSend(t *testing.T) {
	f := NewFeed[int]("test")
	a := f.Subscribe(4)
	b := f.Subscribe(4)

	assert.Equal(t, 2, f.Send(7))
	assert.Equal(t, 7, <-a.C())
	assert.Equal(t, 7, <-b.C())

	a.Unsubscribe()
	a.Unsubscribe()
	_, ok := <-a.C()
	assert.False(t, ok)

	assert.Equal(t, 1, f.Send(8))
	assert.Equal(t, 1, f.Len())
}

func TestFeedDropsWhenFull(t *testing.T) {
	f := NewFeed[string]("test")
	s := f.Subscribe(1)

	assert.Equal(t, 1, f.Send("first"))
	assert.Equal(t, 0, f.Send("second"))
	assert.Equal(t, "first", <-s.C())
}

func TestFeedClose(t *testing.T) {
	f := NewFeed[int]("test")
	s := f.Subscribe(1)
	f.Close()
	f.Close()

	_, ok := <-s.C()
	assert.False(t, ok)

	late := f.Subscribe(1)
	_, ok = <-late.C()
	require.False(t, ok)
	assert.Equal(t, 0, f.Send(1))

	s.Unsubscribe()
}
