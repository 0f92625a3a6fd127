// Package device turns a User-Agent header into the label stored on a
// session.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknown = "Unknown Device"

const maxLabelLength = 128

// Label renders "<browser> on <os>", e.g. "Chrome on Mac OS X 10_15_7".
func Label(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return unknown
	}
	ua := useragent.New(userAgent)

	browser, _ := ua.Browser()
	if ua.Bot() {
		browser = "Bot " + browser
	}
	if browser == "" {
		browser = "Unknown Browser"
	}

	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	if ua.Mobile() && !strings.Contains(os, ua.Platform()) {
		os = ua.Platform() + " " + os
	}

	label := strings.Join(strings.Fields(browser+" on "+os), " ")
	if len(label) > maxLabelLength {
		label = label[:maxLabelLength]
	}
	return label
}
