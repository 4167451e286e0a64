// Package webrtc establishes a peer connection whose data channel behaves
// like any other message transport. Media negotiation stays here; callers
// only see a transports.Conn once the channel is open.
package webrtc

import (
	"context"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/transports"
)

// SignalFunc carries the SDP offer to the vendor and returns its answer.
type SignalFunc func(ctx context.Context, offerSDP string) (answerSDP string, err error)

// Config shapes the peer connection.
type Config struct {
	DataChannelLabel string
	ICEServers       []string

	// GatherTimeout bounds ICE candidate gathering. On expiry the offer
	// is sent with the candidates collected so far.
	GatherTimeout time.Duration

	// OpenTimeout bounds the wait for the data channel to open after
	// the answer is applied.
	OpenTimeout time.Duration
}

const (
	defaultGatherTimeout = 5 * time.Second
	defaultOpenTimeout   = 10 * time.Second
	defaultSTUNServer    = "stun:stun.l.google.com:19302"
)

// Dial negotiates a peer connection and returns the open data channel.
// Readiness requires the full chain: gathered offer, vendor answer, and an
// open channel. Any link failing tears the peer connection down.
func Dial(ctx context.Context, cfg Config, signal SignalFunc) (transports.Conn, error) {
	label := cfg.DataChannelLabel
	if label == "" {
		label = "data"
	}
	gatherTimeout := cfg.GatherTimeout
	if gatherTimeout == 0 {
		gatherTimeout = defaultGatherTimeout
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}
	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = []string{defaultSTUNServer}
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers: []pion.ICEServer{{URLs: iceServers}},
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}

	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		_ = pc.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}

	conn := newDataChannelConn(pc, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}

	// Wait for gathering, but proceed with partial candidates on timeout.
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
	case <-ctx.Done():
		_ = pc.Close()
		return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonSignalingFailure)
	}

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return nil, errorsx.New(errorsx.ReasonSignalingFailure, "no local description after gathering")
	}

	answerSDP, err := signal(ctx, local.SDP)
	if err != nil {
		_ = pc.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		_ = pc.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}

	select {
	case <-conn.opened:
	case <-time.After(openTimeout):
		_ = pc.Close()
		return nil, errorsx.New(errorsx.ReasonSignalingFailure, "data channel %q did not open within %s", label, openTimeout)
	case <-ctx.Done():
		_ = pc.Close()
		return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonSignalingFailure)
	}

	return conn, nil
}

type dataChannelConn struct {
	pc      *pion.PeerConnection
	dc      *pion.DataChannel
	inbound chan transports.Message
	recvCh  chan transports.Message
	opened  chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	termErr error
}

func newDataChannelConn(pc *pion.PeerConnection, dc *pion.DataChannel) *dataChannelConn {
	c := &dataChannelConn{
		pc:      pc,
		dc:      dc,
		inbound: make(chan transports.Message, 256),
		recvCh:  make(chan transports.Message),
		opened:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.pump()
	dc.OnOpen(func() {
		close(c.opened)
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		mt := transports.BinaryMessage
		if msg.IsString {
			mt = transports.TextMessage
		}
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		c.enqueue(transports.Message{Type: mt, Data: data})
	})
	dc.OnClose(func() {
		c.terminate(nil)
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		switch state {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed, pion.PeerConnectionStateDisconnected:
			c.terminate(errorsx.New(errorsx.ReasonTransportClosed, "peer connection %s", state))
		}
	})
	return c
}

// enqueue blocks until the consumer drains or the connection terminates.
// Dropping a frame here would desynchronize every later event for the
// reader, so backpressure propagates to the channel instead.
func (c *dataChannelConn) enqueue(m transports.Message) {
	select {
	case c.inbound <- m:
	case <-c.done:
	}
}

// pump owns recvCh: it forwards inbound frames in arrival order and is
// the only closer, so message callbacks never race the channel close.
func (c *dataChannelConn) pump() {
	defer close(c.recvCh)
	for {
		select {
		case m := <-c.inbound:
			select {
			case c.recvCh <- m:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *dataChannelConn) terminate(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.termErr = err
	c.mu.Unlock()
	close(c.done)
}

func (c *dataChannelConn) Recv() <-chan transports.Message { return c.recvCh }

func (c *dataChannelConn) Send(m transports.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transports.ErrConnClosed
	}
	c.mu.Unlock()
	var err error
	if m.Type == transports.TextMessage {
		err = c.dc.SendText(string(m.Data))
	} else {
		err = c.dc.Send(m.Data)
	}
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (c *dataChannelConn) Close(code int, reason string) error {
	c.terminate(nil)
	_ = c.dc.Close()
	return c.pc.Close()
}

func (c *dataChannelConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Clean local close never reports an error.
	return c.termErr
}
