package messenger

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StardustXR/core/scenegraph"
	"github.com/StardustXR/core/transport"
	"github.com/StardustXR/core/wire"
)

const (
	aspectSpatial           = uint64(1)
	memberSetLocalTransform = uint64(10)
	memberGetTransform      = uint64(11)
)

type endpoint struct {
	registry *scenegraph.Registry
	dispatch *scenegraph.Dispatch
	msgr     *Messenger
}

// newPair wires two symmetric endpoints over an in-process pipe. Handlers
// must be registered before calling start on each endpoint.
func newPair(t *testing.T) (*endpoint, *endpoint) {
	t.Helper()
	a, b := net.Pipe()
	ea := newEndpoint(a)
	eb := newEndpoint(b)
	t.Cleanup(func() {
		ea.msgr.Close()
		eb.msgr.Close()
	})
	return ea, eb
}

func newEndpoint(conn net.Conn) *endpoint {
	reg := scenegraph.NewRegistry()
	disp := scenegraph.NewDispatch()
	return &endpoint{
		registry: reg,
		dispatch: disp,
		msgr:     New(transport.NewStream(conn, 0), reg, disp, DefaultConfig()),
	}
}

// rawPeer speaks the wire format by hand so tests can control frame order
// and simulate misbehaving peers.
type rawPeer struct {
	t *transport.StreamTransport
}

func newRawPeer(conn net.Conn) *rawPeer {
	return &rawPeer{t: transport.NewStream(conn, 0)}
}

func (p *rawPeer) send(t *testing.T, msg *wire.Message) {
	t.Helper()
	require.NoError(t, p.t.Send(msg.Marshal()))
}

func (p *rawPeer) receive(t *testing.T) *wire.Message {
	t.Helper()
	frame, err := p.t.Receive()
	require.NoError(t, err)
	msg, err := wire.Unmarshal(frame)
	require.NoError(t, err)
	return msg
}

func TestSignal_DispatchedInArrivalOrder(t *testing.T) {
	client, server := newPair(t)

	_, err := client.registry.CreateNode(1, aspectSpatial)
	require.NoError(t, err)

	var mu sync.Mutex
	var got [][]byte
	done := make(chan struct{})
	const n = 200
	client.dispatch.HandleSignal(aspectSpatial, memberSetLocalTransform, func(node *scenegraph.Node, payload, datamap []byte) error {
		mu.Lock()
		got = append(got, append([]byte(nil), payload...))
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	client.msgr.Start()
	server.msgr.Start()

	for i := 0; i < n; i++ {
		require.NoError(t, server.msgr.SendSignal(1, aspectSpatial, memberSetLocalTransform, []byte{byte(i), byte(i >> 8)}, nil))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("signals not all dispatched")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		require.Equal(t, []byte{byte(i), byte(i >> 8)}, p, "signal %d out of order", i)
	}
}

// The server calls get_transform on a client node and receives the handler's
// bounding box back, correlated by the call id the server chose.
func TestMethodCall_ServedWithFixedCallID(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() {
		client.msgr.Close()
		peer.t.Close()
	})

	_, err := client.registry.CreateNode(1, aspectSpatial)
	require.NoError(t, err)
	client.dispatch.HandleMethod(aspectSpatial, memberGetTransform, func(ctx context.Context, node *scenegraph.Node, payload, datamap []byte) ([]byte, []byte, error) {
		return []byte("bbox"), nil, nil
	})
	client.msgr.Start()

	peer.send(t, wire.NewMethodCall(42, 1, aspectSpatial, memberGetTransform, nil, nil))

	resp := peer.receive(t)
	assert.Equal(t, wire.KindMethodResponse, resp.Kind)
	assert.Equal(t, uint64(42), resp.CallID)
	assert.Equal(t, []byte("bbox"), resp.Payload)
}

func TestMethodCall_ResponsesArriveReversed(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() {
		client.msgr.Close()
		peer.t.Close()
	})
	client.msgr.Start()

	type result struct {
		payload []byte
		err     error
	}
	results := make(chan result, 2)
	call := func(payload []byte) {
		resp, _, err := client.msgr.CallMethod(context.Background(), 1, aspectSpatial, memberGetTransform, payload, nil)
		results <- result{resp, err}
	}
	go call([]byte("first"))
	first := peer.receive(t)
	go call([]byte("second"))
	second := peer.receive(t)
	require.NotEqual(t, first.CallID, second.CallID)

	// Answer in reverse order; each response must reach only the matching
	// caller.
	peer.send(t, wire.NewMethodResponse(second.CallID, second.NodeID, second.AspectID, second.MemberID, []byte("for second"), nil))
	peer.send(t, wire.NewMethodResponse(first.CallID, first.NodeID, first.AspectID, first.MemberID, []byte("for first"), nil))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			got[string(r.payload)] = true
		case <-time.After(5 * time.Second):
			t.Fatal("call did not resolve")
		}
	}
	assert.True(t, got["for first"])
	assert.True(t, got["for second"])
}

func TestMethodCall_DestroyedNodeAnsweredNotFound(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() {
		client.msgr.Close()
		peer.t.Close()
	})

	_, err := client.registry.CreateNode(7, aspectSpatial)
	require.NoError(t, err)
	client.msgr.Start()

	client.registry.Destroy(7)
	peer.send(t, wire.NewMethodCall(5, 7, aspectSpatial, memberGetTransform, nil, nil))

	resp := peer.receive(t)
	assert.Equal(t, wire.KindError, resp.Kind)
	assert.Equal(t, uint64(5), resp.CallID)
	assert.Contains(t, resp.ErrorMsg, "node not found")
}

func TestSignal_UnknownNodeDroppedSilently(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() {
		client.msgr.Close()
		peer.t.Close()
	})
	_, err := client.registry.CreateNode(1, aspectSpatial)
	require.NoError(t, err)
	client.dispatch.HandleMethod(aspectSpatial, memberGetTransform, func(ctx context.Context, node *scenegraph.Node, payload, datamap []byte) ([]byte, []byte, error) {
		return []byte("ok"), nil, nil
	})
	client.msgr.Start()

	peer.send(t, wire.NewSignal(404, aspectSpatial, memberSetLocalTransform, []byte("x"), nil))
	// A follow-up method call still gets served: the connection survived.
	peer.send(t, wire.NewMethodCall(1, 1, aspectSpatial, memberGetTransform, nil, nil))
	resp := peer.receive(t)
	assert.Equal(t, wire.KindMethodResponse, resp.Kind)

	assert.Eventually(t, func() bool {
		return client.msgr.Stats().UnknownNode == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMethodCall_UnimplementedAnswered(t *testing.T) {
	client, server := newPair(t)
	_, err := client.registry.CreateNode(1, aspectSpatial)
	require.NoError(t, err)
	client.msgr.Start()
	server.msgr.Start()

	_, _, err = server.msgr.CallMethod(context.Background(), 1, aspectSpatial, 999, nil, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "not implemented")
}

func TestMethodCall_Timeout(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() {
		client.msgr.Close()
		peer.t.Close()
	})
	client.msgr.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := client.msgr.CallMethod(ctx, 1, aspectSpatial, memberGetTransform, nil, nil)
	assert.ErrorIs(t, err, ErrTimeout)

	// The late response is dropped, not misdelivered and not fatal.
	call := peer.receive(t)
	peer.send(t, wire.NewMethodResponse(call.CallID, call.NodeID, call.AspectID, call.MemberID, []byte("late"), nil))
	assert.Eventually(t, func() bool {
		return client.msgr.Stats().DroppedResponses == 1
	}, time.Second, 10*time.Millisecond)

	// Connection still healthy after the timeout.
	require.NoError(t, client.msgr.SendSignal(1, aspectSpatial, memberSetLocalTransform, nil, nil))
}

func TestDisconnect_ResolvesEveryPendingCallOnce(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() { client.msgr.Close() })
	client.msgr.Start()

	const calls = 10
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			_, _, err := client.msgr.CallMethod(context.Background(), 1, aspectSpatial, memberGetTransform, nil, nil)
			errs <- err
		}()
	}
	// Drain the requests, then drop the connection mid-call.
	for i := 0; i < calls; i++ {
		peer.receive(t)
	}
	require.NoError(t, peer.t.Close())

	for i := 0; i < calls; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrDisconnected)
		case <-time.After(5 * time.Second):
			t.Fatal("pending call never resolved after disconnect")
		}
	}

	// Post-teardown operations fail immediately without I/O.
	_, _, err := client.msgr.CallMethod(context.Background(), 1, aspectSpatial, memberGetTransform, nil, nil)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, client.msgr.SendSignal(1, aspectSpatial, memberSetLocalTransform, nil, nil), ErrDisconnected)

	select {
	case <-client.msgr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after teardown")
	}
}

func TestProtocolViolation_TearsDownConnection(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() {
		client.msgr.Close()
		peer.t.Close()
	})
	client.msgr.Start()

	require.NoError(t, peer.t.Send([]byte{0xff, 0xff, 0xff, 0xff, 0xff}))

	select {
	case <-client.msgr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("malformed frame did not tear down the connection")
	}
	assert.Error(t, client.msgr.Err())
}

func TestConcurrentCalls_EachResolvesItsOwnCaller(t *testing.T) {
	client, server := newPair(t)

	_, err := client.registry.CreateNode(1, aspectSpatial)
	require.NoError(t, err)
	client.dispatch.HandleMethod(aspectSpatial, memberGetTransform, func(ctx context.Context, node *scenegraph.Node, payload, datamap []byte) ([]byte, []byte, error) {
		// Echo, so every caller can verify it got its own response.
		return payload, nil, nil
	})
	client.msgr.Start()
	server.msgr.Start()

	const workers = 16
	const perWorker = 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				want := []byte{byte(w), byte(i)}
				got, _, err := server.msgr.CallMethod(context.Background(), 1, aspectSpatial, memberGetTransform, want, nil)
				if assert.NoError(t, err) {
					assert.Equal(t, want, got)
				}
			}
		}(w)
	}
	wg.Wait()
}

// A handler that calls back to its peer must not deadlock the read loop.
func TestReentrantHandler_NoDeadlock(t *testing.T) {
	client, server := newPair(t)

	_, err := client.registry.CreateNode(1, aspectSpatial)
	require.NoError(t, err)
	_, err = server.registry.CreateNode(2, aspectSpatial)
	require.NoError(t, err)

	server.dispatch.HandleMethod(aspectSpatial, memberGetTransform, func(ctx context.Context, node *scenegraph.Node, payload, datamap []byte) ([]byte, []byte, error) {
		return []byte("inner"), nil, nil
	})
	client.dispatch.HandleMethod(aspectSpatial, memberGetTransform, func(ctx context.Context, node *scenegraph.Node, payload, datamap []byte) ([]byte, []byte, error) {
		inner, _, err := client.msgr.CallMethod(ctx, 2, aspectSpatial, memberGetTransform, nil, nil)
		if err != nil {
			return nil, nil, err
		}
		return append([]byte("outer+"), inner...), nil, nil
	})
	client.msgr.Start()
	server.msgr.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, _, err := server.msgr.CallMethod(context.Background(), 1, aspectSpatial, memberGetTransform, nil, nil)
		assert.NoError(t, err)
		assert.Equal(t, []byte("outer+inner"), got)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("re-entrant call deadlocked")
	}
}

func TestCallIDs_MonotonicAndUniqueInFlight(t *testing.T) {
	a, b := net.Pipe()
	client := newEndpoint(a)
	peer := newRawPeer(b)
	t.Cleanup(func() {
		client.msgr.Close()
		peer.t.Close()
	})
	client.msgr.Start()

	go func() {
		for i := 0; i < 3; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			client.msgr.CallMethod(ctx, 1, aspectSpatial, memberGetTransform, nil, nil)
			cancel()
		}
	}()

	seen := map[uint64]bool{}
	var last uint64
	for i := 0; i < 3; i++ {
		call := peer.receive(t)
		require.False(t, seen[call.CallID])
		require.Greater(t, call.CallID, last)
		seen[call.CallID] = true
		last = call.CallID
		peer.send(t, wire.NewMethodResponse(call.CallID, call.NodeID, call.AspectID, call.MemberID, nil, nil))
	}
}
