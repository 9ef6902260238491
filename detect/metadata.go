package detect

import (
	"encoding/json"

	"github.com/ecostyle/scout/detect/candidate"
)

// metaScore is the fixed low score assigned to metadata-derived candidates,
// keeping them below any DOM-scored candidate when lists are combined.
const metaScore = 0.1

// FromMetadata extracts at most one candidate from page metadata. It is
// consulted only when the scanner returned nothing. Source precedence:
// social-preview tags, then the structured-data image property (element URL
// or content attribute), then a linked preview-image resource, then a
// best-effort JSON-LD scan. The first URL-resolvable hit wins.
func FromMetadata(meta candidate.Metadata) (candidate.Candidate, bool) {
	base := baseOf(meta.FrameURL)

	try := func(raw string, reason candidate.Reason) (candidate.Candidate, bool) {
		u, ok := absoluteURL(raw, base)
		if !ok {
			return candidate.Candidate{}, false
		}
		return candidate.Candidate{URL: u, Score: metaScore, Reason: reason}, true
	}

	for _, src := range []struct {
		raw    string
		reason candidate.Reason
	}{
		{meta.OGImage, candidate.ReasonMeta},
		{meta.TwitterImage, candidate.ReasonMeta},
		{meta.ItempropURL, candidate.ReasonItemprop},
		{meta.ItempropContent, candidate.ReasonItemprop},
		{meta.LinkImageSrc, candidate.ReasonMeta},
	} {
		if src.raw == "" {
			continue
		}
		if c, ok := try(src.raw, src.reason); ok {
			return c, true
		}
	}

	for _, block := range meta.JSONLD {
		raw, ok := jsonLDImage(block)
		if !ok {
			continue
		}
		if c, ok := try(raw, candidate.ReasonJSONLD); ok {
			return c, true
		}
	}

	return candidate.Candidate{}, false
}

// jsonLDImage pulls an "image" field out of a JSON-LD script block.
// The field may be a string or a list (first element taken). Parse failures
// are skipped silently, never raised.
func jsonLDImage(block string) (string, bool) {
	var data map[string]any
	if err := json.Unmarshal([]byte(block), &data); err != nil {
		return "", false
	}

	switch v := data["image"].(type) {
	case string:
		if v != "" {
			return v, true
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
