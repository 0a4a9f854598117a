package upload

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	messageType int
	data        []byte
	err         error
}

func binary(s string) frame { return frame{messageType: websocket.BinaryMessage, data: []byte(s)} }
func text(s string) frame { return frame{messageType: websocket.TextMessage, data: []byte(s)} }
func readErr(err error) frame {
	return frame{err: err}
}

// scriptedConn replays frames, then reports an abnormal close.
type scriptedConn struct {
	mu          sync.Mutex
	frames      []frame
	reads       int
	deadlines   int
	deadlineErr error
}

func newScriptedConn(frames ...frame) *scriptedConn {
	return &scriptedConn{frames: frames}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reads >= len(c.frames) {
		c.reads++
		return -1, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}
	}
	f := c.frames[c.reads]
	c.reads++
	if f.err != nil {
		return -1, nil, f.err
	}
	return f.messageType, f.data, nil
}

func (c *scriptedConn) SetReadDeadline(time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines++
	return c.deadlineErr
}

func (c *scriptedConn) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// blockingConn blocks every read until released, then reports a normal close.
type blockingConn struct {
	release chan struct{}
}

func newBlockingConn() *blockingConn {
	return &blockingConn{release: make(chan struct{})}
}

func (c *blockingConn) ReadMessage() (int, []byte, error) {
	<-c.release
	return -1, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

func (c *blockingConn) SetReadDeadline(time.Time) error { return nil }

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }
