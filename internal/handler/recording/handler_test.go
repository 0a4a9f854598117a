package recording

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/recstream/backend/internal/model/recording"
	"github.com/zhouzirui/recstream/backend/pkg/utils"
)

type stubStore struct {
	items []recording.Recording
	err   error
}

func (s stubStore) List() ([]recording.Recording, error) {
	return s.items, s.err
}

func setupRouter(store recording.Store) *chi.Mux {
	r := chi.NewRouter()
	New(store, nil).RegisterRoutes(r)
	return r
}

func TestListRecordings(t *testing.T) {
	store := stubStore{items: []recording.Recording{
		{Name: "cand42-s1.webm", URL: "/recordings/cand42-s1.webm", Size: 6, CreatedAt: time.Unix(1700000000, 0).UTC()},
	}}
	r := setupRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/recordings", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var got []recording.Recording
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].URL != "/recordings/cand42-s1.webm" || got[0].Size != 6 {
		t.Fatalf("unexpected recordings: %+v", got)
	}
}

func TestListRecordingsStoreError(t *testing.T) {
	r := setupRouter(stubStore{err: errors.New("permission denied")})

	req := httptest.NewRequest(http.MethodGet, "/recordings", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] != utils.InternalErrorDetail {
		t.Fatalf("unexpected body: %v", body)
	}
}
