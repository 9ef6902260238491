// Package staticscan runs product-image detection over fetched HTML without
// a browser. No layout exists, so records carry declared attribute
// dimensions only and scoring uses the layoutless variant. Used for pages
// that render server-side and do not need a headless Chrome.
package staticscan

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ecostyle/scout/detect"
	"github.com/ecostyle/scout/detect/candidate"
)

// Page is the parse result: synthesised image records plus page metadata.
type Page struct {
	Snapshot candidate.Snapshot
	Metadata candidate.Metadata
}

// Parse reads an HTML document and extracts image records and metadata.
// Records are synthesised as visible: static HTML has no computed style, so
// style-based exclusions do not apply on this path.
func Parse(r io.Reader, pageURL string) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("staticscan: parse: %w", err)
	}

	page := &Page{
		Snapshot: candidate.Snapshot{FrameURL: pageURL},
		Metadata: candidate.Metadata{FrameURL: pageURL},
	}
	walk(doc, page, false, false)
	return page, nil
}

// Detect parses the document and returns its best product-image candidate.
// Declared-attribute records are scored with the layoutless variant; when no
// image qualifies the page metadata is consulted, mirroring the browser
// path's fallback order.
func Detect(r io.Reader, pageURL string) (candidate.Candidate, bool, error) {
	page, err := Parse(r, pageURL)
	if err != nil {
		return candidate.Candidate{}, false, err
	}

	cands := filter(page.Snapshot)
	if scored := detect.ScoreFlat(cands, page.Snapshot.Viewport); len(scored) > 0 {
		return scored[0], true, nil
	}

	if c, ok := detect.FromMetadata(page.Metadata); ok {
		return c, true, nil
	}
	return candidate.Candidate{}, false, nil
}

// filter applies the attribute-only subset of the scanner's rules: URL
// resolution with the standard precedence, the denylist, and the intrinsic
// minimum when the markup declares dimensions. Rendered-size and visibility
// rules need a layout and are skipped.
func filter(snap candidate.Snapshot) []candidate.Candidate {
	var out []candidate.Candidate
	for _, rec := range snap.Images {
		if declaredTooSmall(rec.NaturalWidth) || declaredTooSmall(rec.NaturalHeight) {
			continue
		}

		u, ok := detect.ResolveImageURL(rec, baseOf(snap.FrameURL))
		if !ok {
			continue
		}
		if detect.Denylisted(u) {
			continue
		}

		out = append(out, candidate.Candidate{
			URL:           u,
			Rect:          rec.Rect,
			NaturalWidth:  rec.NaturalWidth,
			NaturalHeight: rec.NaturalHeight,
			Reason:        candidate.ReasonScored,
			Class:         rec.Class,
			InPicture:     rec.InPicture,
			ItempropImage: rec.ItempropImage,
		})
	}
	return out
}

func declaredTooSmall(dim int) bool {
	return dim > 0 && dim < detect.MinNaturalDim
}

func baseOf(frameURL string) *url.URL {
	base, err := url.Parse(frameURL)
	if err != nil {
		return nil
	}
	return base
}

func walk(n *html.Node, page *Page, inPicture, inItemprop bool) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Img:
			page.Snapshot.Images = append(page.Snapshot.Images,
				imageRecord(n, inPicture, inItemprop))
			if inItemprop || attr(n, "itemprop") == "image" {
				if page.Metadata.ItempropURL == "" {
					page.Metadata.ItempropURL = attr(n, "src")
				}
			}
		case atom.Meta:
			switch {
			case attr(n, "property") == "og:image":
				setFirst(&page.Metadata.OGImage, attr(n, "content"))
			case attr(n, "name") == "twitter:image":
				setFirst(&page.Metadata.TwitterImage, attr(n, "content"))
			case attr(n, "itemprop") == "image":
				setFirst(&page.Metadata.ItempropContent, attr(n, "content"))
			}
		case atom.Link:
			if attr(n, "rel") == "image_src" {
				setFirst(&page.Metadata.LinkImageSrc, attr(n, "href"))
			}
		case atom.Script:
			if attr(n, "type") == "application/ld+json" {
				if text := textContent(n); strings.TrimSpace(text) != "" {
					page.Metadata.JSONLD = append(page.Metadata.JSONLD, text)
				}
			}
		case atom.Picture:
			inPicture = true
		}
		if attr(n, "itemprop") == "image" {
			inItemprop = true
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, page, inPicture, inItemprop)
	}
}

func imageRecord(n *html.Node, inPicture, inItemprop bool) candidate.ImageRecord {
	w, _ := strconv.Atoi(attr(n, "width"))
	h, _ := strconv.Atoi(attr(n, "height"))

	return candidate.ImageRecord{
		Opacity:         1,
		HasLayoutParent: true,
		Rect:            candidate.Rect{W: float64(w), H: float64(h)},
		NaturalWidth:    w,
		NaturalHeight:   h,
		Src:             attr(n, "src"),
		DataSrc:         attr(n, "data-src"),
		DataLazySrc:     attr(n, "data-lazy-src"),
		DataOriginal:    attr(n, "data-original"),
		Srcset:          attr(n, "srcset"),
		Class:           attr(n, "class"),
		InPicture:       inPicture,
		ItempropImage:   inItemprop || attr(n, "itemprop") == "image",
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setFirst(dst *string, val string) {
	if *dst == "" && val != "" {
		*dst = val
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}
