package webrtc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/interpret/pkg/transports"
)

func testConn() *dataChannelConn {
	c := &dataChannelConn{
		inbound: make(chan transports.Message, 4),
		recvCh:  make(chan transports.Message),
		opened:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.pump()
	return c
}

func TestSlowConsumerKeepsEveryFrameInOrder(t *testing.T) {
	c := testConn()
	const frames = 64
	go func() {
		for i := 0; i < frames; i++ {
			c.enqueue(transports.Message{Type: transports.TextMessage, Data: []byte{byte(i)}})
		}
	}()
	for i := 0; i < frames; i++ {
		time.Sleep(time.Millisecond)
		select {
		case m := <-c.Recv():
			if m.Data[0] != byte(i) {
				t.Fatalf("frame %d arrived as %d; frames reordered or dropped", i, m.Data[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
}

func TestTerminateReleasesBlockedEnqueue(t *testing.T) {
	c := testConn()
	const frames = 16
	var delivered atomic.Int64
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < frames; i++ {
			c.enqueue(transports.Message{Type: transports.BinaryMessage, Data: []byte{byte(i)}})
			delivered.Add(1)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	if n := delivered.Load(); n >= frames {
		t.Fatalf("producer never blocked; %d frames buffered without a consumer", n)
	}

	c.terminate(nil)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("terminate must release the blocked producer")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Recv():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("recv channel never closed after terminate")
		}
	}
}
