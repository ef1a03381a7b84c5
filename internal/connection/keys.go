package connection

import (
	"net/url"
	"strings"
)

// NotificationsKey is the key of the per-user notification stream.
const NotificationsKey = "/circle/notifications/"

// CircleChatKey returns the key of a circle's chat room.
func CircleChatKey(circleID string) string {
	return "/circle/" + circleID + "/chat/"
}

// NormalizeKey gives relative keys a leading slash. Absolute ws:// and
// wss:// URLs are returned unchanged.
func NormalizeKey(key string) string {
	if isAbsoluteURL(key) {
		return key
	}
	if !strings.HasPrefix(key, "/") {
		return "/" + key
	}
	return key
}

// resolveURL joins base and key and appends params.
func resolveURL(base, key string, params url.Values) string {
	u := key
	if !isAbsoluteURL(key) {
		u = strings.TrimSuffix(base, "/") + key
	}
	if len(params) == 0 {
		return u
	}

	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + params.Encode()
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}
