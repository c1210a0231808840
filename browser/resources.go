package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails every request whose resource type is listed. It
// returns the router so the caller can stop it with the tab.
func blockResources(page *rod.Page, types []string) (*rod.HijackRouter, error) {
	blockSet := resourceSet(types)

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blockSet[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}

// resourceSet normalises config names ("images", "Font") to CDP resource
// types ("image", "font").
func resourceSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		switch t {
		case "images":
			t = "image"
		case "fonts":
			t = "font"
		case "stylesheets":
			t = "stylesheet"
		case "scripts":
			t = "script"
		}
		if t != "" {
			set[t] = true
		}
	}
	return set
}
