package detect

import (
	"testing"

	"github.com/ecostyle/scout/detect/candidate"
)

func metaWith(mutate func(*candidate.Metadata)) candidate.Metadata {
	m := candidate.Metadata{FrameURL: "https://shop.example.com/p/123"}
	mutate(&m)
	return m
}

func TestFromMetadata_Precedence(t *testing.T) {
	full := metaWith(func(m *candidate.Metadata) {
		m.OGImage = "https://cdn.example.com/og.jpg"
		m.TwitterImage = "https://cdn.example.com/tw.jpg"
		m.ItempropURL = "https://cdn.example.com/ip-url.jpg"
		m.ItempropContent = "https://cdn.example.com/ip-content.jpg"
		m.LinkImageSrc = "https://cdn.example.com/link.jpg"
		m.JSONLD = []string{`{"image":"https://cdn.example.com/ld.jpg"}`}
	})

	steps := []struct {
		wantURL    string
		wantReason candidate.Reason
		clear      func(*candidate.Metadata)
	}{
		{"https://cdn.example.com/og.jpg", candidate.ReasonMeta,
			func(m *candidate.Metadata) { m.OGImage = "" }},
		{"https://cdn.example.com/tw.jpg", candidate.ReasonMeta,
			func(m *candidate.Metadata) { m.TwitterImage = "" }},
		{"https://cdn.example.com/ip-url.jpg", candidate.ReasonItemprop,
			func(m *candidate.Metadata) { m.ItempropURL = "" }},
		{"https://cdn.example.com/ip-content.jpg", candidate.ReasonItemprop,
			func(m *candidate.Metadata) { m.ItempropContent = "" }},
		{"https://cdn.example.com/link.jpg", candidate.ReasonMeta,
			func(m *candidate.Metadata) { m.LinkImageSrc = "" }},
		{"https://cdn.example.com/ld.jpg", candidate.ReasonJSONLD,
			func(m *candidate.Metadata) { m.JSONLD = nil }},
	}

	for _, step := range steps {
		c, ok := FromMetadata(full)
		if !ok {
			t.Fatalf("expected a candidate before clearing %s", step.wantURL)
		}
		if c.URL != step.wantURL {
			t.Fatalf("precedence: got %s, want %s", c.URL, step.wantURL)
		}
		if c.Reason != step.wantReason {
			t.Errorf("%s: reason %q, want %q", step.wantURL, c.Reason, step.wantReason)
		}
		if c.Score != 0.1 {
			t.Errorf("%s: score %f, want the fixed metadata score", step.wantURL, c.Score)
		}
		step.clear(&full)
	}

	if _, ok := FromMetadata(full); ok {
		t.Fatal("expected no candidate once every source is cleared")
	}
}

func TestFromMetadata_RelativeResolution(t *testing.T) {
	m := metaWith(func(m *candidate.Metadata) {
		m.OGImage = "/img/preview.jpg"
	})
	c, ok := FromMetadata(m)
	if !ok || c.URL != "https://shop.example.com/img/preview.jpg" {
		t.Fatalf("relative og:image: got %+v, ok=%v", c, ok)
	}
}

func TestFromMetadata_JSONLDShapes(t *testing.T) {
	cases := map[string]struct {
		blocks []string
		want   string
		wantOK bool
	}{
		"string image": {
			blocks: []string{`{"@type":"Product","image":"https://cdn.example.com/a.jpg"}`},
			want:   "https://cdn.example.com/a.jpg",
			wantOK: true,
		},
		"list image takes first": {
			blocks: []string{`{"image":["https://cdn.example.com/1.jpg","https://cdn.example.com/2.jpg"]}`},
			want:   "https://cdn.example.com/1.jpg",
			wantOK: true,
		},
		"malformed block skipped": {
			blocks: []string{`{not json`, `{"image":"https://cdn.example.com/b.jpg"}`},
			want:   "https://cdn.example.com/b.jpg",
			wantOK: true,
		},
		"no image field": {
			blocks: []string{`{"@type":"Product","name":"Dress"}`},
			wantOK: false,
		},
		"image is an object": {
			blocks: []string{`{"image":{"url":"https://cdn.example.com/c.jpg"}}`},
			wantOK: false,
		},
	}

	for name, tc := range cases {
		m := metaWith(func(m *candidate.Metadata) { m.JSONLD = tc.blocks })
		c, ok := FromMetadata(m)
		if ok != tc.wantOK {
			t.Errorf("%s: ok=%v, want %v", name, ok, tc.wantOK)
			continue
		}
		if ok && c.URL != tc.want {
			t.Errorf("%s: got %s, want %s", name, c.URL, tc.want)
		}
	}
}

func TestFromMetadata_Empty(t *testing.T) {
	if _, ok := FromMetadata(candidate.Metadata{FrameURL: "https://shop.example.com/"}); ok {
		t.Fatal("empty metadata must yield no candidate")
	}
}
