package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ecostyle/scout/detect"
	"github.com/ecostyle/scout/detect/candidate"
)

func TestRecentDetections_NewestFirstAndBounded(t *testing.T) {
	r := newRecentDetections(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		r.add(ctx, candidate.Detection{ID: fmt.Sprintf("d%d", i)})
	}

	got := r.list()
	if len(got) != 3 {
		t.Fatalf("buffered: got %d, want 3", len(got))
	}
	for i, want := range []string{"d5", "d4", "d3"} {
		if got[i].ID != want {
			t.Errorf("list[%d] = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestRecentDetections_Empty(t *testing.T) {
	if got := newRecentDetections(4).list(); len(got) != 0 {
		t.Fatalf("empty buffer listed %d detections", len(got))
	}
}

// Detections flow from the sink fan-out into the API feed.
func TestDetectionsEndpoint_FedByCallbackSink(t *testing.T) {
	s, _ := testServer(t)
	feed := detect.NewCallbackSink(s.recent.add)

	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := feed.Send(ctx, candidate.Detection{
			ID:       id,
			ImageURL: "https://shop.example.com/img/" + id + ".jpg",
			Frame:    "top",
			Origin:   "mutation",
		}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/detections", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}

	var resp struct {
		Detections []candidate.Detection `json:"detections"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Detections) != 2 {
		t.Fatalf("detections: got %d, want 2", len(resp.Detections))
	}
	if resp.Detections[0].ID != "b" || resp.Detections[1].ID != "a" {
		t.Errorf("order: %+v", resp.Detections)
	}
}
