package netmon

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"azbuka/internal/domain"
	"azbuka/internal/events"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProber) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func newTestMonitor(prober domain.Prober, cfg Config) *Monitor {
	logger := zerolog.New(os.Stdout)
	return New(prober, cfg, events.NewEventBus(), &logger)
}

func TestSetOnlineEdges(t *testing.T) {
	m := newTestMonitor(nil, Config{})

	var edges []bool
	m.Subscribe(func(online bool) { edges = append(edges, online) })

	assert.False(t, m.Online())

	m.SetOnline(true)
	assert.True(t, m.Online())
	assert.Equal(t, []bool{true}, edges)

	// same state again must not produce a second event
	m.SetOnline(true)
	assert.Equal(t, []bool{true}, edges)

	m.SetOnline(false)
	assert.False(t, m.Online())
	assert.Equal(t, []bool{true, false}, edges)
}

func TestAssumeOnline(t *testing.T) {
	m := newTestMonitor(nil, Config{AssumeOnline: true})

	var edges []bool
	m.Subscribe(func(online bool) { edges = append(edges, online) })

	assert.True(t, m.Online())
	m.SetOnline(true)
	assert.Empty(t, edges, "confirming the assumed state is not an edge")
}

func TestSubscribeUnsubscribe(t *testing.T) {
	m := newTestMonitor(nil, Config{})

	var edges []bool
	unsubscribe := m.Subscribe(func(online bool) { edges = append(edges, online) })

	m.SetOnline(true)
	unsubscribe()
	m.SetOnline(false)

	assert.Equal(t, []bool{true}, edges)
}

func TestStartWithoutProber(t *testing.T) {
	m := newTestMonitor(nil, Config{})

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start must return immediately without a prober")
	}
}

func TestStartPollsProber(t *testing.T) {
	prober := &fakeProber{}
	m := newTestMonitor(prober, Config{ProbeInterval: 10 * time.Millisecond, AssumeOnline: true})

	edges := make(chan bool, 8)
	m.Subscribe(func(online bool) { edges <- online })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	prober.fail(errors.New("no route to host"))
	waitEdge(t, edges, false)
	assert.False(t, m.Online())

	prober.fail(nil)
	waitEdge(t, edges, true)
	assert.True(t, m.Online())
}

func waitEdge(t *testing.T, edges <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-edges:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for online=%v edge", want)
	}
}
