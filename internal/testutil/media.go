package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// FakeTransport is an in-memory core.MediaTransport.
type FakeTransport struct {
	Identity string
	Remote   []core.RemoteParticipant
	// DialErrs is consumed one entry per Dial; a nil entry succeeds.
	DialErrs []error
	// Gate, when set, blocks Dial until it is closed.
	Gate chan struct{}

	mu      sync.Mutex
	dials   int
	handler core.MediaHandler
	rooms   []*FakeRoom
}

func (f *FakeTransport) Dial(ctx context.Context, url, token string, h core.MediaHandler) (core.MediaRoom, error) {
	f.mu.Lock()
	f.dials++
	var err error
	if len(f.DialErrs) > 0 {
		err, f.DialErrs = f.DialErrs[0], f.DialErrs[1:]
	}
	gate := f.Gate
	f.handler = h
	identity := f.Identity
	if identity == "" {
		identity = "local"
	}
	remote := slices.Clone(f.Remote)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	room := &FakeRoom{identity: identity, remote: remote, published: make(map[string]core.LocalTrack)}
	f.mu.Lock()
	f.rooms = append(f.rooms, room)
	f.mu.Unlock()
	return room, nil
}

func (f *FakeTransport) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *FakeTransport) Handler() core.MediaHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *FakeTransport) LastRoom() *FakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rooms) == 0 {
		return nil
	}
	return f.rooms[len(f.rooms)-1]
}

type FakeRoom struct {
	identity string
	remote   []core.RemoteParticipant

	mu          sync.Mutex
	PublishErr  map[domain.TrackKind]error
	published   map[string]core.LocalTrack
	unpublished []string
	seq         int
	disconnects int
}

func (r *FakeRoom) LocalIdentity() string { return r.identity }

func (r *FakeRoom) RemoteParticipants() []core.RemoteParticipant { return slices.Clone(r.remote) }

func (r *FakeRoom) SetPublishErr(kind domain.TrackKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PublishErr == nil {
		r.PublishErr = make(map[domain.TrackKind]error)
	}
	r.PublishErr[kind] = err
}

func (r *FakeRoom) Publish(_ context.Context, t core.LocalTrack) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.PublishErr[t.Kind()]; err != nil {
		return "", err
	}
	r.seq++
	id := fmt.Sprintf("pub-%d", r.seq)
	r.published[id] = t
	return id, nil
}

func (r *FakeRoom) Unpublish(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.published, id)
	r.unpublished = append(r.unpublished, id)
	return nil
}

func (r *FakeRoom) Disconnect() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

// PublishedKinds lists the kinds currently published, sorted.
func (r *FakeRoom) PublishedKinds() []domain.TrackKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TrackKind, 0, len(r.published))
	for _, t := range r.published {
		out = append(out, t.Kind())
	}
	slices.Sort(out)
	return out
}

func (r *FakeRoom) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

// FakeCapturer hands out FakeTracks or the configured error per kind.
type FakeCapturer struct {
	Gate chan struct{}

	mu     sync.Mutex
	errs   map[domain.TrackKind]error
	tracks []*FakeTrack
	calls  map[domain.TrackKind]int
}

func (c *FakeCapturer) Fail(kind domain.TrackKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errs == nil {
		c.errs = make(map[domain.TrackKind]error)
	}
	c.errs[kind] = err
}

func (c *FakeCapturer) Capture(ctx context.Context, kind domain.TrackKind) (core.LocalTrack, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[domain.TrackKind]int)
	}
	c.calls[kind]++
	err := c.errs[kind]
	gate := c.Gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	t := &FakeTrack{id: fmt.Sprintf("%s-%d", kind, c.Calls(kind)), kind: kind}
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
	return t, nil
}

func (c *FakeCapturer) Calls(kind domain.TrackKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[kind]
}

func (c *FakeCapturer) Tracks() []*FakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tracks)
}

type FakeTrack struct {
	id      string
	kind    domain.TrackKind
	stopped atomic.Bool
}

func (t *FakeTrack) ID() string             { return t.id }
func (t *FakeTrack) Kind() domain.TrackKind { return t.kind }
func (t *FakeTrack) Stop()                  { t.stopped.Store(true) }
func (t *FakeTrack) Stopped() bool          { return t.stopped.Load() }
