package base

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	echoType  int32 = 0x7F0100
	eventType int32 = 0x7F0102
	blockType int32 = 0x7F0200
	panicType int32 = 0x7F0300
)

// loopbackConnector dials and listens on 127.0.0.1
type loopbackConnector struct{}

func (loopbackConnector) GetName() string { return "loopback" }

func (loopbackConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint)
}

func (loopbackConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Endpoint)
}

func (loopbackConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

type loopbackServerConnector struct{ loopbackConnector }

func (loopbackServerConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

// startServer serves handler on a random port and returns its address
func startServer(t *testing.T, config common.ServerConfig, handler transport.ServerHandleFunc) string {
	t.Helper()
	srv := NewBaseServerTransport(loopbackServerConnector{})
	srv.RegisterHandler(handler)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(listener, config) }()
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return listener.Addr().String()
}

// echoHandler answers echo requests with their payload frames, pushes an
// event first and blocks or panics for the other test types
func echoHandler(release <-chan struct{}) transport.ServerHandleFunc {
	return func(conn transport.IServerConnection, req *protocol.Message) *protocol.Message {
		switch req.MessageType() {
		case blockType:
			<-release
		case panicType:
			panic("boom")
		case eventType:
			ev := protocol.NewEvent(eventType, req.PartitionID(), 0)
			ev.SetCorrelationID(req.CorrelationID())
			protocol.EncodeString(ev, "pushed")
			_ = conn.Push(ev)
		}

		resp := protocol.NewResponse(req.MessageType()|1, req.CorrelationID(), 0)
		it := req.Iterator()
		_, _ = it.Take() // initial frame
		for it.HasNext() {
			f, _ := it.Take()
			protocol.EncodeBytes(resp, f.Payload())
		}
		return resp
	}
}

func dial(t *testing.T, addr string, config common.ClientConfig, onEvent transport.EventHandleFunc) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, loopbackConnector{}, addr, config, onEvent)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func request(t int32, corrID int64, payloads ...[]byte) *protocol.Message {
	req := protocol.NewRequest(t, 3, 0)
	req.SetCorrelationID(corrID)
	for _, p := range payloads {
		protocol.EncodeBytes(req, p)
	}
	return req
}

func responsePayloads(t *testing.T, resp *protocol.Message) [][]byte {
	t.Helper()
	var out [][]byte
	it := resp.Iterator()
	_, _ = it.Take() // initial frame
	for it.HasNext() {
		b, err := protocol.DecodeBytes(it)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestInvokeRoundTrip(t *testing.T) {
	addr := startServer(t, common.DefaultServerConfig(), echoHandler(nil))
	c := dial(t, addr, common.DefaultClientConfig(), nil)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			payload := []byte{byte(id)}
			resp, err := c.Invoke(ctx, request(echoType, id, payload))
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, id, resp.CorrelationID())
			assert.Equal(t, echoType|1, resp.MessageType())
			assert.Equal(t, [][]byte{payload}, responsePayloads(t, resp))
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 0, c.PendingCount())
}

func TestInvokeFragmentsLargeMessages(t *testing.T) {
	serverConf := common.DefaultServerConfig()
	serverConf.Frame.FragmentThreshold = 256
	clientConf := common.DefaultClientConfig()
	clientConf.Frame.FragmentThreshold = 256

	addr := startServer(t, serverConf, echoHandler(nil))
	c := dial(t, addr, clientConf, nil)

	var payloads [][]byte
	for i := 0; i < 20; i++ {
		payloads = append(payloads, bytes.Repeat([]byte{byte(i)}, 100))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Invoke(ctx, request(echoType, 7, payloads...))
	require.NoError(t, err)
	assert.Equal(t, payloads, responsePayloads(t, resp))
}

func TestEventsReachHandler(t *testing.T) {
	addr := startServer(t, common.DefaultServerConfig(), echoHandler(nil))

	events := make(chan *protocol.Message, 1)
	c := dial(t, addr, common.DefaultClientConfig(), func(msg *protocol.Message) { events <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Invoke(ctx, request(eventType, 11))
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.True(t, ev.IsEvent())
		assert.Equal(t, int64(11), ev.CorrelationID())
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDuplicateCorrelationID(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	addr := startServer(t, common.DefaultServerConfig(), echoHandler(release))
	c := dial(t, addr, common.DefaultClientConfig(), nil)

	go func() { _, _ = c.Invoke(context.Background(), request(blockType, 5)) }()
	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, 5*time.Second, time.Millisecond)

	_, err := c.Invoke(context.Background(), request(echoType, 5))
	assert.Error(t, err)
}

func TestCloseFailsPendingInvocations(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	addr := startServer(t, common.DefaultServerConfig(), echoHandler(release))
	c := dial(t, addr, common.DefaultClientConfig(), nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Invoke(context.Background(), request(blockType, 1))
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending invocation not failed")
	}

	assert.ErrorIs(t, c.Send(request(echoType, 2)), transport.ErrConnectionClosed)
	assert.ErrorIs(t, c.Err(), transport.ErrConnectionClosed)
}

func TestInvokeContextCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	addr := startServer(t, common.DefaultServerConfig(), echoHandler(release))
	c := dial(t, addr, common.DefaultClientConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Invoke(ctx, request(blockType, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.PendingCount())
}

func TestHandlerPanicBecomesErrorResponse(t *testing.T) {
	addr := startServer(t, common.DefaultServerConfig(), echoHandler(nil))
	c := dial(t, addr, common.DefaultClientConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Invoke(ctx, request(panicType, 9))
	require.NoError(t, err)
	assert.Equal(t, int32(0x0000FF), resp.MessageType())
	assert.Equal(t, int64(9), resp.CorrelationID())

	// the connection survives
	_, err = c.Invoke(ctx, request(echoType, 10))
	assert.NoError(t, err)
}

func TestServerRejectsBadPreface(t *testing.T) {
	addr := startServer(t, common.DefaultServerConfig(), echoHandler(nil))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("XYZ"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
