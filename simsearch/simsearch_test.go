package simsearch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func pngDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

func TestDeriveAssetsBase(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000/api/recommend":  "http://localhost:8000/",
		"http://localhost:8000/api/recommend/": "http://localhost:8000/",
		"https://svc.example.com/search":       "https://svc.example.com/search",
		"not a url":                            "",
	}
	for in, want := range cases {
		if got := DeriveAssetsBase(in); got != want {
			t.Errorf("DeriveAssetsBase(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestDecodeDataURL(t *testing.T) {
	raw, mime, err := DecodeDataURL(pngDataURL())
	if err != nil {
		t.Fatalf("DecodeDataURL: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime: got %q", mime)
	}
	if string(raw) != string(pngBytes) {
		t.Error("decoded bytes differ from input")
	}

	for _, bad := range []string{"", "https://x/a.jpg", "data:image/png;base64", "data:,%%%"} {
		if _, _, err := DecodeDataURL(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestSearch_PostsMultipartAndParsesMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		file.Close()
		if header.Filename != "product.png" {
			t.Errorf("filename: got %q", header.Filename)
		}
		if got := r.FormValue("k"); got != "4" {
			t.Errorf("k: got %q", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"matches": []map[string]any{
				{"score": 0.93, "image_path": "assets/dress1.jpg"},
				{"score": 0.88, "image_url": "https://cdn.example.com/dress2.jpg"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL + "/api/recommend")
	matches, err := c.Search(context.Background(), pngDataURL(), 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: got %d, want 2", len(matches))
	}
	if matches[0].ImageURL != srv.URL+"/assets/dress1.jpg" {
		t.Errorf("relative path not resolved: %q", matches[0].ImageURL)
	}
	if matches[1].ImageURL != "https://cdn.example.com/dress2.jpg" {
		t.Errorf("absolute URL mangled: %q", matches[1].ImageURL)
	}
}

func TestSearch_AcceptsResultsShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"score": 0.7, "image_path": "https://cdn.example.com/a.jpg"},
			},
		})
	}))
	defer srv.Close()

	matches, err := New(srv.URL).Search(context.Background(), pngDataURL(), 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ImageURL != "https://cdn.example.com/a.jpg" {
		t.Fatalf("matches: %+v", matches)
	}
}

func TestSearch_ServiceErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "index not loaded"})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Search(context.Background(), pngDataURL(), 0); err == nil {
		t.Fatal("expected the error field to surface")
	}
}

func TestSearch_BadStatusIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model warming up", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Search(context.Background(), pngDataURL(), 0)
	if err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}

func TestSearch_RejectsNonDataURL(t *testing.T) {
	if _, err := New("http://localhost:1").Search(context.Background(), "https://x/a.jpg", 0); err == nil {
		t.Fatal("expected rejection of a non-data URL")
	}
}
