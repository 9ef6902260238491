// Package detect implements the product-image detection pipeline: a scanner
// that filters raw image records captured from a frame, a weighted scorer, a
// metadata fallback resolver, and a per-frame orchestrator reacting to load,
// mutation, click and capture triggers.
//
// The pipeline never touches a live DOM. A probe (detect/internal/observer)
// or the static HTML path (staticscan) produces candidate.Snapshot values;
// everything in this package is a pure function of those records, so the
// heuristics are testable by constructing snapshots by hand.
package detect

import (
	"net/url"
	"strings"

	"github.com/ecostyle/scout/detect/candidate"
)

const (
	// MinRenderedDim is the minimum rendered size per side. Smaller images
	// are icons, swatches or controls, not product photography.
	MinRenderedDim = 48

	// MinNaturalDim is the minimum intrinsic size per side.
	MinNaturalDim = 120
)

// denySubstrings excludes icons, logos, sprites and tracking pixels by URL.
// Matched case-insensitively as substrings of the resolved URL.
var denySubstrings = []string{"sprite", "icon", "logo", "avatar", "thumb", "badge", "pixel"}

// Scan filters a snapshot down to plausible product-image candidates,
// in document order, unscored. It is a pure function of the snapshot:
// scanning the same snapshot twice yields identical output.
func Scan(snap candidate.Snapshot) []candidate.Candidate {
	base := baseOf(snap.FrameURL)

	var out []candidate.Candidate
	for _, rec := range snap.Images {
		if rec.Detached {
			continue
		}
		if !visible(rec, snap.Viewport) {
			continue
		}
		if rec.Rect.W < MinRenderedDim || rec.Rect.H < MinRenderedDim {
			continue
		}
		if rec.NaturalWidth < MinNaturalDim || rec.NaturalHeight < MinNaturalDim {
			continue
		}

		u, ok := ResolveImageURL(rec, base)
		if !ok {
			continue
		}
		if Denylisted(u) {
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

// visible applies the computed-style and geometry checks. Elements
// positioned fixed/sticky can be visible without an offset parent, so they
// skip the layout-parent check.
func visible(rec candidate.ImageRecord, vp candidate.Viewport) bool {
	if rec.Display == "none" || rec.Visibility == "hidden" || rec.Opacity == 0 {
		return false
	}
	if !rec.HasLayoutParent && rec.Position != "fixed" && rec.Position != "sticky" {
		return false
	}

	r := rec.Rect
	if r.Area() <= 0 {
		return false
	}
	// Entirely outside the viewport.
	if r.Y+r.H <= 0 || r.X+r.W <= 0 {
		return false
	}
	if r.Y >= vp.H || r.X >= vp.W {
		return false
	}
	return true
}

// ResolveImageURL resolves a record's source to an absolute URL. Precedence:
// the browser-resolved currentSrc (accounts for srcset selection), then the
// raw src, then known lazy-load attributes, then the first srcset token.
// Returns false when nothing resolves.
func ResolveImageURL(rec candidate.ImageRecord, base *url.URL) (string, bool) {
	raw := rec.CurrentSrc
	if raw == "" {
		raw = rec.Src
	}
	if raw == "" {
		raw = rec.DataSrc
	}
	if raw == "" {
		raw = rec.DataLazySrc
	}
	if raw == "" {
		raw = rec.DataOriginal
	}
	if raw == "" {
		raw = rec.Srcset
	}
	if raw == "" {
		return "", false
	}

	// srcset entries look like "url 2x, url2 640w": keep the first token.
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false
	}
	token := strings.TrimSuffix(fields[0], ",")

	return absoluteURL(token, base)
}

// Denylisted reports whether a resolved URL matches the icon/logo/sprite
// filename patterns.
func Denylisted(u string) bool {
	lower := strings.ToLower(u)
	for _, s := range denySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// baseOf parses a frame URL for use as a resolution base; nil on failure.
func baseOf(frameURL string) *url.URL {
	base, err := url.Parse(frameURL)
	if err != nil {
		return nil
	}
	return base
}

// absoluteURL resolves token against base and rejects anything that does
// not come out as a fetchable absolute reference.
func absoluteURL(token string, base *url.URL) (string, bool) {
	ref, err := url.Parse(token)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !ref.IsAbs() || ref.Host == "" {
		return "", false
	}
	switch ref.Scheme {
	case "http", "https":
		return ref.String(), true
	}
	return "", false
}
