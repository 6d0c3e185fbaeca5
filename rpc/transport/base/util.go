package base

import (
	"bufio"
	"net"
	"time"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/util"
	"github.com/ValentinKolb/dGrid/rpc/common"
)

const defaultBufferSize = 64 * 1024

// writeLoop drains queue into conn until the queue is closed. Messages above
// fragmentThreshold are fragmented. The buffer is flushed whenever the queue
// runs dry, which batches bursts into few syscalls. A write error is reported
// to onErr once, the remaining messages are dropped.
func writeLoop(conn net.Conn, queue *util.LockFreeMPSC[protocol.Message], bufSize, fragmentThreshold int,
	timeout time.Duration, onErr func(error)) {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	w := bufio.NewWriterSize(conn, bufSize)
	failed := false

	for msg := range queue.Recv() {
		if failed {
			continue
		}
		if timeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		for _, frag := range protocol.Fragment(msg, fragmentThreshold) {
			if _, err := protocol.WriteMessage(w, frag); err != nil {
				failed = true
				onErr(err)
				break
			}
		}
		sentTotal.Inc()
		if !failed && queue.Len() == 0 {
			if err := w.Flush(); err != nil {
				failed = true
				onErr(err)
			}
		}
	}
}

// newReader wraps conn in a frame reader
func newReader(conn net.Conn, bufSize, maxFrameSize int) *protocol.Reader {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return protocol.NewReader(bufio.NewReaderSize(conn, bufSize), maxFrameSize)
}

// upgradeSocket applies the socket and tcp options to conn. Options that do
// not apply to the connection type are ignored.
func upgradeSocket(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error {
	type bufferConn interface {
		SetWriteBuffer(bytes int) error
		SetReadBuffer(bytes int) error
	}
	if bc, ok := conn.(bufferConn); ok {
		if socket.WriteBufferSize > 0 {
			if err := bc.SetWriteBuffer(socket.WriteBufferSize); err != nil {
				return err
			}
		}
		if socket.ReadBufferSize > 0 {
			if err := bc.SetReadBuffer(socket.ReadBufferSize); err != nil {
				return err
			}
		}
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing more to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(tcp.TCPNoDelay); err != nil {
		return err
	}

	// Enable TCP keep-alive if configured
	if tcp.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(tcp.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if tcp.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(tcp.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// UpgradeClientSocket applies the socket options of a client configuration
func UpgradeClientSocket(conn net.Conn, config common.ClientConfig) error {
	return upgradeSocket(conn, config.Socket, config.TCP)
}

// UpgradeServerSocket applies the socket options of a member configuration
func UpgradeServerSocket(conn net.Conn, config common.ServerConfig) error {
	return upgradeSocket(conn, config.Socket, config.TCP)
}
