package staticscan

import (
	"strings"
	"testing"

	"github.com/ecostyle/scout/detect/candidate"
)

const pageURL = "https://shop.example.com/p/123"

func TestParse_ExtractsRecordsAndMetadata(t *testing.T) {
	doc := `<!DOCTYPE html>
<html><head>
	<meta property="og:image" content="/img/og.jpg">
	<meta name="twitter:image" content="https://cdn.example.com/tw.jpg">
	<link rel="image_src" href="/img/link.jpg">
	<script type="application/ld+json">{"@type":"Product","image":"/img/ld.jpg"}</script>
</head><body>
	<picture>
		<img src="/img/hero.jpg" width="600" height="800" class="product-hero">
	</picture>
	<div itemprop="image"><img src="/img/itemprop.jpg" width="400" height="500"></div>
	<img data-src="/img/lazy.jpg" width="300" height="300">
</body></html>`

	page, err := Parse(strings.NewReader(doc), pageURL)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(page.Snapshot.Images) != 3 {
		t.Fatalf("images: got %d, want 3", len(page.Snapshot.Images))
	}
	hero := page.Snapshot.Images[0]
	if !hero.InPicture || hero.NaturalWidth != 600 || hero.NaturalHeight != 800 {
		t.Errorf("hero record: %+v", hero)
	}
	if !page.Snapshot.Images[1].ItempropImage {
		t.Error("itemprop ancestor not detected")
	}
	if page.Snapshot.Images[2].DataSrc != "/img/lazy.jpg" {
		t.Errorf("lazy record: %+v", page.Snapshot.Images[2])
	}

	meta := page.Metadata
	if meta.OGImage != "/img/og.jpg" || meta.TwitterImage != "https://cdn.example.com/tw.jpg" {
		t.Errorf("social metadata: %+v", meta)
	}
	if meta.LinkImageSrc != "/img/link.jpg" {
		t.Errorf("link image_src: %q", meta.LinkImageSrc)
	}
	if meta.ItempropURL != "/img/itemprop.jpg" {
		t.Errorf("itemprop URL: %q", meta.ItempropURL)
	}
	if len(meta.JSONLD) != 1 {
		t.Errorf("jsonld blocks: %d", len(meta.JSONLD))
	}
}

func TestDetect_PicksLargestDeclaredImage(t *testing.T) {
	doc := `<html><body>
	<img src="/img/small.jpg" width="200" height="200">
	<img src="/img/big.jpg" width="600" height="800">
</body></html>`

	c, ok, err := Detect(strings.NewReader(doc), pageURL)
	if err != nil || !ok {
		t.Fatalf("Detect: ok=%v err=%v", ok, err)
	}
	if c.URL != "https://shop.example.com/img/big.jpg" {
		t.Fatalf("picked %q", c.URL)
	}
	if c.Reason != candidate.ReasonScored {
		t.Errorf("reason: %q", c.Reason)
	}
}

func TestDetect_AppliesDenylistAndMinimums(t *testing.T) {
	doc := `<html><body>
	<img src="/assets/logo.png" width="500" height="500">
	<img src="/img/thumbnail-strip.jpg" width="600" height="600">
	<img src="/img/tiny.jpg" width="80" height="80">
	<img src="/img/product.jpg" width="400" height="600">
</body></html>`

	c, ok, err := Detect(strings.NewReader(doc), pageURL)
	if err != nil || !ok {
		t.Fatalf("Detect: ok=%v err=%v", ok, err)
	}
	if c.URL != "https://shop.example.com/img/product.jpg" {
		t.Fatalf("picked %q", c.URL)
	}
}

func TestDetect_UndeclaredDimensionsStillQualify(t *testing.T) {
	doc := `<html><body><img src="/img/nodims.jpg"></body></html>`

	c, ok, err := Detect(strings.NewReader(doc), pageURL)
	if err != nil || !ok {
		t.Fatalf("Detect: ok=%v err=%v", ok, err)
	}
	if c.URL != "https://shop.example.com/img/nodims.jpg" {
		t.Fatalf("picked %q", c.URL)
	}
}

func TestDetect_MetadataFallback(t *testing.T) {
	doc := `<html><head>
	<meta property="og:image" content="/img/og.jpg">
</head><body><p>no images here</p></body></html>`

	c, ok, err := Detect(strings.NewReader(doc), pageURL)
	if err != nil || !ok {
		t.Fatalf("Detect: ok=%v err=%v", ok, err)
	}
	if c.URL != "https://shop.example.com/img/og.jpg" || c.Reason != candidate.ReasonMeta {
		t.Fatalf("fallback candidate: %+v", c)
	}
}

func TestDetect_NothingFound(t *testing.T) {
	doc := `<html><body><p>plain text</p></body></html>`
	if _, ok, err := Detect(strings.NewReader(doc), pageURL); err != nil || ok {
		t.Fatalf("expected a clean miss: ok=%v err=%v", ok, err)
	}
}
