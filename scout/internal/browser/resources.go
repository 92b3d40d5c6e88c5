package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests of the listed types. Images and stylesheets
// are never blocked: intrinsic sizes, canvas pixels and computed
// background-image all depend on them.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := blockSet(types)
	if len(blocked) == 0 {
		return nil
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// blockSet maps configuration names to CDP resource types, dropping the
// ones the scan needs.
func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "fonts", "font":
			set["font"] = true
		case "media":
			set["media"] = true
		case "websocket", "websockets":
			set["websocket"] = true
		case "ping", "beacons":
			set["ping"] = true
		}
	}
	return set
}
