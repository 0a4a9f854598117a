package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const sentinel = "TRANSFER_COMPLETE"

type sendOptions struct {
	server      string
	candidateID string
	sessionID   string
	chunkSize   int
	interval    time.Duration
	timeout     time.Duration
}

type sendSummary struct {
	Chunks    int
	Bytes     int64
	CloseCode int
}

func sendCmd() *cobra.Command {
	opts := sendOptions{}

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Upload a file as a chunked recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			summary, err := sendRecording(ctx, opts, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d chunks (%d bytes), server closed with %d\n",
				summary.Chunks, summary.Bytes, summary.CloseCode)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", defaultServer(), "Upload server base URL (ws:// or wss://)")
	cmd.Flags().StringVarP(&opts.candidateID, "candidate", "c", "", "Candidate id, empty uses the server default")
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session id, empty lets the server generate one")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 64<<10, "Bytes per binary frame")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Pause between chunks")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall upload timeout")

	return cmd
}

// uploadURL builds the websocket endpoint for the given ids.
func uploadURL(server, candidateID, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("server url must use ws or wss, got %q", u.Scheme)
	}

	if candidateID != "" {
		u.Path += "/ws/" + url.PathEscape(candidateID)
	} else {
		u.Path += "/"
	}
	if sessionID != "" {
		q := u.Query()
		q.Set("sessionId", sessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// sendRecording streams r as binary frames, then the sentinel, and waits for
// the server to close the connection.
func sendRecording(ctx context.Context, opts sendOptions, r io.Reader) (sendSummary, error) {
	var summary sendSummary
	if opts.chunkSize <= 0 {
		return summary, errors.New("chunk size must be positive")
	}

	target, err := uploadURL(opts.server, opts.candidateID, opts.sessionID)
	if err != nil {
		return summary, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return summary, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, opts.chunkSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return summary, fmt.Errorf("write chunk %d: %w", summary.Chunks+1, err)
			}
			summary.Chunks++
			summary.Bytes += int64(n)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return summary, fmt.Errorf("read input: %w", readErr)
		}

		if opts.interval > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(opts.interval):
			}
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(sentinel)); err != nil {
		return summary, fmt.Errorf("write completion marker: %w", err)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				summary.CloseCode = closeErr.Code
				if closeErr.Code != websocket.CloseNormalClosure {
					return summary, fmt.Errorf("server closed upload: %w", err)
				}
				return summary, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			return summary, fmt.Errorf("await close: %w", err)
		}
	}
}
