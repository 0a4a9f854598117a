package upload

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	uploadsvc "github.com/zhouzirui/recstream/backend/internal/service/upload"
)

func setupUploadServer(t *testing.T) (*httptest.Server, *uploadsvc.Service, string) {
	t.Helper()

	dir := t.TempDir()
	svc := uploadsvc.NewService(uploadsvc.Config{
		BaseDir:     dir,
		Extension:   ".webm",
		IdleTimeout: 5 * time.Second,
	})

	r := chi.NewRouter()
	NewWebSocketHandler(svc, 1<<20, nil).RegisterWebSocketRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc, dir
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func waitForFinished(t *testing.T, svc *uploadsvc.Service, path string) {
	t.Helper()
	waitFor(t, func() bool {
		if _, err := os.Stat(path); err != nil {
			return false
		}
		return len(svc.Active()) == 0
	})
}

func TestWebSocketUploadCompletes(t *testing.T) {
	srv, _, dir := setupUploadServer(t)
	conn := dial(t, srv, "/ws/cand42?sessionId=s1")
	defer conn.Close()

	frames := []struct {
		kind int
		data string
	}{
		{websocket.BinaryMessage, "AAA"},
		{websocket.BinaryMessage, ""},
		{websocket.TextMessage, "hello"},
		{websocket.BinaryMessage, "BBB"},
		{websocket.TextMessage, uploadsvc.Sentinel},
	}
	for _, f := range frames {
		if err := conn.WriteMessage(f.kind, []byte(f.data)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "cand42-s1.webm"))
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if string(got) != "AAABBB" {
		t.Fatalf("expected AAABBB, got %q", got)
	}
}

func TestWebSocketRootUsesDefaultCandidate(t *testing.T) {
	srv, _, dir := setupUploadServer(t)
	conn := dial(t, srv, "/?sessionId=root")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("x")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(uploadsvc.Sentinel)); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "anonymous-root.webm")); err != nil {
		t.Fatalf("expected default candidate file: %v", err)
	}
}

func TestWebSocketDisconnectWithoutFramesLeavesEmptyFile(t *testing.T) {
	srv, svc, dir := setupUploadServer(t)
	conn := dial(t, srv, "/ws/cand42?sessionId=empty")

	path := filepath.Join(dir, "cand42-empty.webm")
	waitFor(t, func() bool { return len(svc.Active()) == 1 })
	_ = conn.Close()
	waitForFinished(t, svc, path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat recording: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty file, got %d bytes", info.Size())
	}
}

func TestWebSocketMidStreamDisconnectKeepsReceivedData(t *testing.T) {
	srv, svc, dir := setupUploadServer(t)
	conn := dial(t, srv, "/ws/cand42?sessionId=partial")

	for _, chunk := range []string{"AAA", "BBB"} {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(chunk)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	path := filepath.Join(dir, "cand42-partial.webm")
	waitFor(t, func() bool {
		snap, ok := svc.Snapshot("cand42-partial")
		return ok && snap.Chunks == 2
	})
	_ = conn.Close()
	waitForFinished(t, svc, path)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if string(got) != "AAABBB" {
		t.Fatalf("expected AAABBB, got %q", got)
	}
}

func TestWebSocketRejectsInvalidIdentifier(t *testing.T) {
	srv, _, _ := setupUploadServer(t)

	resp, err := http.Get(srv.URL + "/ws/bad.name")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebSocketDuplicateSessionIsBusy(t *testing.T) {
	srv, svc, _ := setupUploadServer(t)
	first := dial(t, srv, "/ws/cand42?sessionId=dup")
	defer first.Close()
	waitFor(t, func() bool { return len(svc.Active()) == 1 })

	second := dial(t, srv, "/ws/cand42?sessionId=dup")
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := second.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected try-again-later closure, got %v", err)
	}
}

func TestCloseCode(t *testing.T) {
	cases := []struct {
		name   string
		res    uploadsvc.Result
		code   int
		sendOK bool
	}{
		{"completed", uploadsvc.Result{Status: uploadsvc.StatusCompleted}, websocket.CloseNormalClosure, true},
		{"disconnected", uploadsvc.Result{Status: uploadsvc.StatusDisconnected}, 0, false},
		{"failed", uploadsvc.Result{Status: uploadsvc.StatusFailed, Err: errors.New("disk full")}, websocket.CloseInternalServerErr, true},
		{"busy", uploadsvc.Result{Status: uploadsvc.StatusFailed, Err: uploadsvc.ErrDestinationBusy}, websocket.CloseTryAgainLater, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, ok := closeCode(tc.res)
			if ok != tc.sendOK || code != tc.code {
				t.Fatalf("expected (%d, %v), got (%d, %v)", tc.code, tc.sendOK, code, ok)
			}
		})
	}
}

func TestUpgradeHeaderCopiesCORSHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("Access-Control-Allow-Origin", "http://localhost:5173")
	src.Set("Access-Control-Allow-Credentials", "true")
	src.Set("Content-Type", "application/json")

	got := upgradeHeader(src)
	if got.Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("origin not copied: %v", got)
	}
	if got.Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("credentials not copied: %v", got)
	}
	if got.Get("Content-Type") != "" {
		t.Fatalf("unexpected header copied: %v", got)
	}
}
