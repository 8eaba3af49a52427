package scraper

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configToProto maps human-readable resource type names to Rod protocol
// resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// paramToProto maps the wire-level resource type names accepted by the
// block_resource parameter.
var paramToProto = map[string]proto.NetworkResourceType{
	"document":    proto.NetworkResourceTypeDocument,
	"stylesheet":  proto.NetworkResourceTypeStylesheet,
	"image":       proto.NetworkResourceTypeImage,
	"media":       proto.NetworkResourceTypeMedia,
	"font":        proto.NetworkResourceTypeFont,
	"script":      proto.NetworkResourceTypeScript,
	"texttrack":   proto.NetworkResourceTypeTextTrack,
	"xhr":         proto.NetworkResourceTypeXHR,
	"fetch":       proto.NetworkResourceTypeFetch,
	"eventsource": proto.NetworkResourceTypeEventSource,
	"websocket":   proto.NetworkResourceTypeWebSocket,
	"manifest":    proto.NetworkResourceTypeManifest,
	"other":       proto.NetworkResourceTypeOther,
}

// ValidResourceType reports whether name is accepted by the block_resource
// parameter.
func ValidResourceType(name string) bool {
	_, ok := paramToProto[name]
	return ok
}

// setupHijack installs a request interceptor that blocks the given resource
// types. blockedTypes uses config-style names ("Image"), extraTypes the
// wire-level names from block_resource ("image"). Returns the running router
// so the caller can defer router.Stop(), or nil when nothing is blocked.
func setupHijack(page *rod.Page, blockedTypes, extraTypes []string) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes)+len(extraTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	for _, name := range extraTypes {
		if rt, ok := paramToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it lives in its own goroutine until Stop().
	go router.Run()

	return router
}
