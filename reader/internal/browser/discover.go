package browser

import (
	"os"

	"github.com/go-rod/rod/lib/launcher"
)

// EnvBrowserPath overrides every other discovery source when set.
const EnvBrowserPath = "LISEUSE_BROWSER_PATH"

// wellKnownPaths are tried after the configured path, in order.
var wellKnownPaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// DiscoverExecutable resolves which browser binary to launch: the
// environment override, then the configured path, then well-known install
// locations, then the launcher's own system lookup. An empty path means
// nothing was found and the launcher falls back to its managed download.
// The source names where the decision came from, for the launch log line.
func DiscoverExecutable(configured string) (path, source string) {
	if p := os.Getenv(EnvBrowserPath); p != "" {
		return p, "env"
	}
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured, "config"
		}
	}
	for _, p := range wellKnownPaths {
		if _, err := os.Stat(p); err == nil {
			return p, "well-known"
		}
	}
	if p, ok := launcher.LookPath(); ok {
		return p, "system"
	}
	return "", "managed"
}
