package broker

import (
	"sync"

	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
	"github.com/cyw0ng95/meshrpc/pkg/wire"
)

// peerConn owns one accepted connection's reader/writer goroutines, split
// so a slow reader never blocks writes and vice versa, for a broker that
// holds many independent peers instead of one reconnecting client.
type peerConn struct {
	id     string
	conn   transport.Connection
	sendCh chan *wire.Message
	logger *common.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeerConn(id string, conn transport.Connection, queueCap int, logger *common.Logger) *peerConn {
	return &peerConn{
		id:     id,
		conn:   conn,
		sendCh: make(chan *wire.Message, queueCap),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// trySend enqueues msg for the writer goroutine without blocking. It
// returns false when the queue is saturated, the trigger for the broker to
// disconnect this peer per the resolved Open Question (queue saturation ==
// Disconnected, not a distinct error kind).
func (p *peerConn) trySend(msg *wire.Message) bool {
	select {
	case p.sendCh <- msg:
		return true
	case <-p.closed:
		return false
	default:
		return false
	}
}

func (p *peerConn) writerLoop() {
	for {
		select {
		case msg, ok := <-p.sendCh:
			if !ok {
				return
			}
			if err := wire.WriteMessage(p.conn.Writer(), msg); err != nil {
				mapped := common.MapError(err)
				p.logger.Warn("peer %s: write failed [%s]: %s", p.id, mapped.Code, mapped.Error())
				p.shutdown()
				return
			}
		case <-p.closed:
			return
		}
	}
}

func (p *peerConn) readerLoop(onMessage func(*wire.Message)) {
	for {
		msg, err := wire.ReadMessage(p.conn.Reader())
		if err != nil {
			mapped := common.MapError(err)
			p.logger.Debug("peer %s: read stopped [%s]: %s", p.id, mapped.Code, mapped.Error())
			return
		}
		onMessage(msg)
	}
}

func (p *peerConn) shutdown() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Shutdown()
	})
}
