package analytics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sitewire/sitewire/internal/platform"
)

// Event is one analytics event.
type Event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// PageViewEvent is the event emitted on route changes.
const PageViewEvent = "page_view"

// Sink is a third-party analytics destination loaded through a script tag.
type Sink interface {
	Name() string
	Script() platform.Script

	// OnLoad runs once the script loaded, before any event is sent.
	OnLoad(ctx context.Context, host platform.ScriptHost) error
	Track(ctx context.Context, host platform.ScriptHost, event Event) error

	// Deny tells the sink that consent was withdrawn.
	Deny(ctx context.Context, host platform.ScriptHost) error
	// Grant reverses a previous Deny.
	Grant(ctx context.Context, host platform.ScriptHost) error
}

// TagManager is the tag-manager sink keyed by a measurement id.
type TagManager struct {
	MeasurementID string
	Clock         func() time.Time
}

const (
	tagManagerScriptID = "tag-manager"
	tagManagerGlobal   = "gtag"
	tagManagerSrc      = "https://www.googletagmanager.com/gtag/js"
)

func (t *TagManager) Name() string { return "tag_manager" }

func (t *TagManager) Script() platform.Script {
	return platform.Script{
		ID:     tagManagerScriptID,
		Src:    tagManagerSrc + "?id=" + url.QueryEscape(t.MeasurementID),
		Async:  true,
		Global: tagManagerGlobal,
	}
}

// OnLoad configures the measurement id with automatic page views disabled;
// page views are sent explicitly on route changes.
func (t *TagManager) OnLoad(ctx context.Context, host platform.ScriptHost) error {
	now := time.Now
	if t.Clock != nil {
		now = t.Clock
	}
	if err := host.Call(ctx, tagManagerGlobal, "js", now()); err != nil {
		return err
	}
	return host.Call(ctx, tagManagerGlobal, "config", t.MeasurementID, map[string]any{
		"send_page_view": false,
	})
}

func (t *TagManager) Track(ctx context.Context, host platform.ScriptHost, event Event) error {
	params := event.Params
	if params == nil {
		params = map[string]any{}
	}
	return host.Call(ctx, tagManagerGlobal, "event", event.Name, params)
}

func (t *TagManager) Deny(ctx context.Context, host platform.ScriptHost) error {
	return host.Call(ctx, tagManagerGlobal, "consent", "update", map[string]any{
		"analytics_storage": "denied",
		"ad_storage":        "denied",
	})
}

func (t *TagManager) Grant(ctx context.Context, host platform.ScriptHost) error {
	return host.Call(ctx, tagManagerGlobal, "consent", "update", map[string]any{
		"analytics_storage": "granted",
		"ad_storage":        "granted",
	})
}

// Pixel is the advertising pixel sink keyed by a pixel id.
type Pixel struct {
	PixelID string
}

const (
	pixelScriptID = "ad-pixel"
	pixelGlobal   = "fbq"
	pixelSrc      = "https://connect.facebook.net/en_US/fbevents.js"
	pixelNoScript = "https://www.facebook.com/tr"
)

// pixelStandardEvents maps event names to the pixel's standard events.
// Anything else is sent as a custom event.
var pixelStandardEvents = map[string]string{
	PageViewEvent:           "PageView",
	"lead":                  "Lead",
	"generate_lead":         "Lead",
	"purchase":              "Purchase",
	"contact":               "Contact",
	"complete_registration": "CompleteRegistration",
	"sign_up":               "CompleteRegistration",
	"view_content":          "ViewContent",
	"search":                "Search",
	"schedule":              "Schedule",
}

func (p *Pixel) Name() string { return "pixel" }

func (p *Pixel) Script() platform.Script {
	return platform.Script{
		ID:       pixelScriptID,
		Src:      pixelSrc,
		Async:    true,
		Global:   pixelGlobal,
		NoScript: fmt.Sprintf("%s?id=%s&ev=PageView&noscript=1", pixelNoScript, url.QueryEscape(p.PixelID)),
	}
}

func (p *Pixel) OnLoad(ctx context.Context, host platform.ScriptHost) error {
	return host.Call(ctx, pixelGlobal, "init", p.PixelID)
}

func (p *Pixel) Track(ctx context.Context, host platform.ScriptHost, event Event) error {
	method, name := "trackCustom", event.Name
	if standard, ok := pixelStandardEvents[strings.ToLower(event.Name)]; ok {
		method, name = "track", standard
	}
	if len(event.Params) == 0 {
		return host.Call(ctx, pixelGlobal, method, name)
	}
	return host.Call(ctx, pixelGlobal, method, name, event.Params)
}

func (p *Pixel) Deny(ctx context.Context, host platform.ScriptHost) error {
	return host.Call(ctx, pixelGlobal, "consent", "revoke")
}

func (p *Pixel) Grant(ctx context.Context, host platform.ScriptHost) error {
	return host.Call(ctx, pixelGlobal, "consent", "grant")
}
