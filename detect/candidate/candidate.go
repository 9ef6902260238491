// Package candidate defines the structured types exchanged by the detection
// pipeline. These are the public API contract: the scanner consumes raw
// ImageRecords captured from a frame, the scorer and orchestrator produce
// Candidates, and capture requests resolve to CaptureResults.
package candidate

import "math"

// Reason explains why a candidate was selected. Used for diagnostics and
// for trigger-precedence decisions in the orchestrator.
type Reason string

const (
	ReasonMeta     Reason = "meta"     // social-preview or link metadata
	ReasonJSONLD   Reason = "json-ld"  // structured-data script block
	ReasonItemprop Reason = "itemprop" // schema.org itemprop="image"
	ReasonScored   Reason = "scored"   // DOM scan + heuristic score
	ReasonClick    Reason = "click"    // direct user selection
	ReasonMutation Reason = "mutation" // debounced rescan after DOM churn
	ReasonInit     Reason = "init"     // initial page-load scan
)

// Rect is a bounding rectangle in viewport pixels at scan time.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the rectangle area, clamping negative dimensions to zero.
func (r Rect) Area() float64 {
	return math.Max(0, r.W) * math.Max(0, r.H)
}

// Center returns the rectangle's center point.
func (r Rect) Center() (x, y float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Portrait reports whether the rectangle is taller than wide.
func (r Rect) Portrait() bool {
	return r.H > r.W
}

// Viewport is the visible area of a frame in pixels.
type Viewport struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ImageRecord is the raw per-element data captured from a frame by the
// injected probe (or synthesised by the static HTML path). The scanner
// never touches the live DOM; it filters these records.
type ImageRecord struct {
	Detached bool `json:"detached,omitempty"`

	// Computed style at capture time.
	Display    string  `json:"display,omitempty"`
	Visibility string  `json:"visibility,omitempty"`
	Opacity    float64 `json:"opacity"`
	Position   string  `json:"position,omitempty"`

	// HasLayoutParent is false when the element has no offset parent
	// (display:none subtree or out-of-flow). Fixed/sticky elements are
	// exempted from this check by the scanner.
	HasLayoutParent bool `json:"has_layout_parent"`

	Rect          Rect `json:"rect"`
	NaturalWidth  int  `json:"natural_width"`
	NaturalHeight int  `json:"natural_height"`

	// Source attributes in resolution-precedence order.
	CurrentSrc   string `json:"current_src,omitempty"`
	Src          string `json:"src,omitempty"`
	DataSrc      string `json:"data_src,omitempty"`
	DataLazySrc  string `json:"data_lazy_src,omitempty"`
	DataOriginal string `json:"data_original,omitempty"`
	Srcset       string `json:"srcset,omitempty"`

	// Markup-context signals for score boosts.
	Class         string `json:"class,omitempty"`
	InPicture     bool   `json:"in_picture,omitempty"`
	ItempropImage bool   `json:"itemprop_image,omitempty"`
}

// Snapshot is everything the scanner needs from one frame at one instant.
type Snapshot struct {
	FrameURL string        `json:"frame_url"`
	Viewport Viewport      `json:"viewport"`
	Images   []ImageRecord `json:"images"`
}

// Metadata holds page-level image hints used by the fallback resolver when
// no visible image qualifies.
type Metadata struct {
	FrameURL        string   `json:"frame_url"`
	OGImage         string   `json:"og_image,omitempty"`
	TwitterImage    string   `json:"twitter_image,omitempty"`
	ItempropURL     string   `json:"itemprop_url,omitempty"`
	ItempropContent string   `json:"itemprop_content,omitempty"`
	LinkImageSrc    string   `json:"link_image_src,omitempty"`
	JSONLD          []string `json:"jsonld,omitempty"`
}

// Candidate is one image considered as the main product image. Created
// fresh on every scan pass and never mutated after scoring; a new "current"
// selection supersedes, not updates, the old one.
type Candidate struct {
	URL           string  `json:"url"`
	Rect          Rect    `json:"rect"`
	NaturalWidth  int     `json:"natural_width"`
	NaturalHeight int     `json:"natural_height"`
	Score         float64 `json:"score"`
	Reason        Reason  `json:"reason"`

	// Context signals carried from the scanned record for the scorer.
	Class         string `json:"class,omitempty"`
	InPicture     bool   `json:"in_picture,omitempty"`
	ItempropImage bool   `json:"itemprop_image,omitempty"`
}

// Portrait reports whether either the rendered rectangle or the intrinsic
// dimensions are taller than wide.
func (c Candidate) Portrait() bool {
	return c.Rect.Portrait() || c.NaturalHeight > c.NaturalWidth
}

// Detection is the fire-and-forget announcement emitted whenever a frame's
// current candidate changes.
type Detection struct {
	ID            string  `json:"id"`
	ImageURL      string  `json:"image_url"`
	Frame         string  `json:"frame"`
	Origin        string  `json:"origin"` // init | domcontentloaded | mutation | click | message
	Reason        Reason  `json:"reason"`
	Score         float64 `json:"score"`
	NaturalWidth  int     `json:"natural_width"`
	NaturalHeight int     `json:"natural_height"`
	Timestamp     int64   `json:"timestamp"` // epoch milliseconds
}

// CaptureResult is the response to an explicit capture request.
//
// Invariant: when OK is false ImageDataURL is empty; ImageURL may still be
// set for partial success (URL resolved, byte fetch failed).
type CaptureResult struct {
	OK            bool   `json:"ok"`
	ImageURL      string `json:"imageUrl,omitempty"`
	ImageDataURL  string `json:"imageDataUrl,omitempty"`
	Reason        Reason `json:"reason,omitempty"`
	Frame         string `json:"frame"`
	NaturalWidth  int    `json:"naturalWidth,omitempty"`
	NaturalHeight int    `json:"naturalHeight,omitempty"`
	Error         string `json:"error,omitempty"`
}
