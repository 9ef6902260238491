package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking intercepts page requests and fails the configured
// resource types. Config names may be singular or plural ("font", "fonts").
// Image requests always pass: blocked images would leave nothing to detect.
func applyResourceBlocking(page *rod.Page, types []string) error {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		blocked[strings.TrimSuffix(strings.ToLower(t), "s")] = true
	}
	delete(blocked, "image")

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		t := strings.TrimSuffix(strings.ToLower(string(h.Request.Type())), "s")
		if blocked[t] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return nil
}
