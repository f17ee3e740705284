// Package identity maps raw user-agent strings onto device, browser and OS categories.
package identity

import (
	"strings"

	"github.com/scanpulse/scanpulse/internal/model"
)

// Identity is the normalized client fingerprint of a scan.
type Identity struct {
	Device  string `json:"device"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// rule maps a category to the lowercase tokens that select it.
type rule struct {
	name   string
	tokens []string
}

// Order matters: the first matching rule wins, so more specific
// products come before the engines they embed.
var browserRules = []rule{
	// Crawlers end their product token in "bot"; a bare "bot" would also
	// match handset names like "Cubot".
	{"Bot", []string{"bot/", "bot;", "bot)", "bot-", "+http", "crawler", "spider", "slurp", "curl/", "wget/", "python-requests", "headless"}},
	{"Edge", []string{"edg/", "edge/", "edga/", "edgios/"}},
	{"Opera", []string{"opr/", "opera", "opios/"}},
	{"Samsung Internet", []string{"samsungbrowser/"}},
	{"Firefox", []string{"firefox/", "fxios/"}},
	{"Chrome", []string{"crios/", "chrome/", "chromium/"}},
	{"Internet Explorer", []string{"msie ", "trident/"}},
	{"Safari", []string{"safari/", "version/"}},
}

var osRules = []rule{
	{"iOS", []string{"iphone", "ipad", "ipod", "cpu os "}},
	{"Android", []string{"android"}},
	{"Windows Phone", []string{"windows phone"}},
	{"Windows", []string{"windows nt", "windows"}},
	{"Chrome OS", []string{"cros "}},
	{"macOS", []string{"mac os x", "macintosh"}},
	{"Linux", []string{"linux", "x11"}},
}

var (
	tabletTokens  = []string{"ipad", "tablet", "kindle", "silk/", "playbook"}
	mobileTokens  = []string{"mobi", "iphone", "ipod", "android", "blackberry", "windows phone", "opera mini", "iemobile"}
	desktopTokens = []string{"windows nt", "macintosh", "mac os x", "x11", "linux", "cros "}
)

// Parse classifies a user-agent string. It never fails: empty or
// unrecognized input yields "Unknown" for every field.
func Parse(userAgent string) Identity {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" || ua == model.Unknown {
		return Identity{Device: model.DeviceUnknown, Browser: model.UnknownCategory, OS: model.UnknownCategory}
	}

	return Identity{
		Device:  parseDevice(ua),
		Browser: match(ua, browserRules),
		OS:      match(ua, osRules),
	}
}

func parseDevice(ua string) string {
	if isBot(ua) {
		return model.DeviceUnknown
	}
	// Android tablets omit the "mobile" token.
	if containsAny(ua, tabletTokens) || (strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")) {
		return model.DeviceTablet
	}
	if containsAny(ua, mobileTokens) {
		return model.DeviceMobile
	}
	if containsAny(ua, desktopTokens) {
		return model.DeviceDesktop
	}
	return model.DeviceUnknown
}

func isBot(ua string) bool {
	return containsAny(ua, browserRules[0].tokens)
}

func match(ua string, rules []rule) string {
	for _, r := range rules {
		if containsAny(ua, r.tokens) {
			return r.name
		}
	}
	return model.UnknownCategory
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
