package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Sentinel is the text frame that ends an upload.
const Sentinel = "TRANSFER_COMPLETE"

var (
	// ErrIdleTimeout marks a session that received no frame within the idle timeout.
	ErrIdleTimeout = errors.New("upload idle timeout")
	// ErrDestinationBusy is returned when another session is writing the same file.
	ErrDestinationBusy = errors.New("destination is already being written")
	// ErrInvalidIdentifier is returned by Resolve for unusable candidate or session ids.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Status is the terminal outcome of a session.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

// State is the position of a session in its receive loop.
type State int32

const (
	StateAwaitingFrame State = iota
	StateProcessingFrame
	StateCompleted
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateProcessingFrame:
		return "processing_frame"
	case StateCompleted:
		return "completed"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func terminalState(status Status) State {
	switch status {
	case StatusCompleted:
		return StateCompleted
	case StatusDisconnected:
		return StateDisconnected
	default:
		return StateFailed
	}
}

// Conn is the receive side of an upgraded websocket connection.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

type appender interface {
	Append(p []byte) error
}

type frameKind int

const (
	frameIgnored frameKind = iota
	frameChunk
	frameSentinel
)

func classifyFrame(messageType int, data []byte) frameKind {
	switch messageType {
	case websocket.BinaryMessage:
		if len(data) == 0 {
			return frameIgnored
		}
		return frameChunk
	case websocket.TextMessage:
		if string(data) == Sentinel {
			return frameSentinel
		}
	}
	return frameIgnored
}

// session runs the receive loop for one connection. It owns neither the
// connection nor the sink; the caller closes both.
type session struct {
	conn        Conn
	sink        appender
	idleTimeout time.Duration
	progress    *Progress
}

func (s *session) run(ctx context.Context) (Status, error) {
	for {
		s.progress.setState(StateAwaitingFrame)

		if s.idleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				return StatusFailed, fmt.Errorf("arm read deadline: %w", err)
			}
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return classifyReadError(ctx, err)
		}

		s.progress.setState(StateProcessingFrame)

		switch classifyFrame(messageType, data) {
		case frameChunk:
			if err := s.sink.Append(data); err != nil {
				return StatusFailed, err
			}
			s.progress.addChunk(len(data))
		case frameSentinel:
			return StatusCompleted, nil
		}
	}
}

// classifyReadError separates a peer going away from real failures.
func classifyReadError(ctx context.Context, err error) (Status, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return StatusFailed, fmt.Errorf("session interrupted: %w", ctxErr)
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return StatusDisconnected, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return StatusDisconnected, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusFailed, fmt.Errorf("%w: %v", ErrIdleTimeout, err)
	}

	return StatusFailed, fmt.Errorf("read frame: %w", err)
}
