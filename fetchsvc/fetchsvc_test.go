package fetchsvc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ecostyle/scout/msgbus"
)

// A one-pixel GIF, enough for content sniffing.
var gifBytes = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func TestFetchAsDataURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Scout") {
			t.Errorf("unexpected User-Agent %q", ua)
		}
		w.Header().Set("Content-Type", "image/gif")
		w.Write(gifBytes)
	}))
	defer srv.Close()

	got, err := New().FetchAsDataURL(context.Background(), srv.URL+"/pixel.gif")
	if err != nil {
		t.Fatalf("FetchAsDataURL: %v", err)
	}

	want := "data:image/gif;base64," + base64.StdEncoding.EncodeToString(gifBytes)
	if got != want {
		t.Fatalf("data URL:\ngot  %s\nwant %s", got, want)
	}
}

func TestFetchAsDataURL_SniffsMissingContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(gifBytes)
	}))
	defer srv.Close()

	got, err := New().FetchAsDataURL(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchAsDataURL: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/gif;base64,") {
		t.Fatalf("expected sniffed gif type, got %s", got[:40])
	}
}

func TestFetchAsDataURL_RejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := New().FetchAsDataURL(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestFetchAsDataURL_EnforcesSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	svc := New(WithMaxBytes(1024))
	if _, err := svc.FetchAsDataURL(context.Background(), srv.URL); err == nil {
		t.Fatal("expected the size cap to reject the response")
	}
}

func TestFetchAsDataURL_RejectsNonHTTPURLs(t *testing.T) {
	svc := New()
	for _, u := range []string{
		"",
		"/relative/path.jpg",
		"ftp://example.com/a.jpg",
		"data:image/png;base64,AA",
		"javascript:alert(1)",
	} {
		if _, err := svc.FetchAsDataURL(context.Background(), u); err == nil {
			t.Errorf("%q: expected rejection", u)
		}
	}
}

func TestRegister_AnswersOverBus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		w.Write(gifBytes)
	}))
	defer srv.Close()

	bus := msgbus.New()
	New().Register(bus)

	raw, err := bus.Request(context.Background(), msgbus.TypeFetchImageAsDataURL,
		msgbus.FetchImageRequest{URL: srv.URL + "/a.gif"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	resp, err := msgbus.DecodeFetchImageResponse(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || !strings.HasPrefix(resp.DataURL, "data:image/gif;base64,") {
		t.Fatalf("response: %+v", resp)
	}
}

func TestRegister_FetchFailureIsTypedResponse(t *testing.T) {
	bus := msgbus.New()
	New().Register(bus)

	raw, err := bus.Request(context.Background(), msgbus.TypeFetchImageAsDataURL,
		msgbus.FetchImageRequest{URL: "http://127.0.0.1:1/nope.jpg"})
	if err != nil {
		t.Fatalf("fetch failure must not be a bus error: %v", err)
	}
	resp, err := msgbus.DecodeFetchImageResponse(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected OK=false with an error message, got %+v", resp)
	}
}

func TestRegister_BadPayloadIsProtocolError(t *testing.T) {
	bus := msgbus.New()
	New().Register(bus)

	var payload json.RawMessage = []byte(`{"nope":true}`)
	if _, err := bus.Request(context.Background(), msgbus.TypeFetchImageAsDataURL, payload); err == nil {
		t.Fatal("malformed payload must surface as a protocol error")
	}
}
