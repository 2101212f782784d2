package reader

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/liseuse/reader/internal/browser"
)

// Page-turn cadence bounds, seconds. Values outside are clamped, never
// rejected.
const (
	MinIntervalSeconds = 60
	MaxIntervalSeconds = 300
)

var identifierRe = regexp.MustCompile(`^[0-9]+[a-z]{2}$`)

// RunConfig is the per-run automation configuration. Immutable once a run
// starts; a new run gets a new config.
type RunConfig struct {
	Identifier      string `json:"identifier"`
	Secret          string `json:"secret"`
	BookReference   string `json:"bookReference"`
	IntervalSeconds int    `json:"intervalSeconds"`
	QueueEntryID    string `json:"queueEntryId,omitempty"`
}

// Normalize validates and canonicalizes the config in place: identifier
// lowercased and trimmed, interval clamped into its bounds. Returns a
// ConfigurationError on bad input.
func (c *RunConfig) Normalize() error {
	id, err := normalizeCredentials(c.Identifier, c.Secret)
	if err != nil {
		return err
	}
	c.Identifier = id

	if strings.TrimSpace(c.BookReference) == "" {
		return &ConfigurationError{Field: "bookReference", Reason: "must not be empty"}
	}

	if c.IntervalSeconds < MinIntervalSeconds {
		c.IntervalSeconds = MinIntervalSeconds
	}
	if c.IntervalSeconds > MaxIntervalSeconds {
		c.IntervalSeconds = MaxIntervalSeconds
	}
	return nil
}

// Interval is the page-turn cadence as a duration.
func (c RunConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func normalizeCredentials(identifier, secret string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if !identifierRe.MatchString(id) {
		return "", &ConfigurationError{Field: "identifier", Reason: "must be digits followed by a two-letter region code"}
	}
	if secret == "" {
		return "", &ConfigurationError{Field: "secret", Reason: "must not be empty"}
	}
	return id, nil
}

// Config is the service-level reader configuration, loaded from YAML.
type Config struct {
	Site    SiteConfig     `yaml:"site"`
	Browser browser.Config `yaml:"browser"`
}

// SiteConfig locates the target e-reader application. The URLs are
// deployment configuration; everything selector-shaped stays in code where
// the resolver's fallback chains can evolve with the site.
type SiteConfig struct {
	// LoginURL is the page carrying the identifier/secret form.
	LoginURL string `yaml:"login_url"`
	// AppURL is the sub-application home, used as the direct-URL fallback
	// when no navigational element into it can be resolved after login.
	AppURL string `yaml:"app_url"`
	// BookURL is a template with one %s verb for the book reference.
	BookURL string `yaml:"book_url"`
	// NavTimeout bounds every page navigation.
	NavTimeout time.Duration `yaml:"nav_timeout"`
	// LoginWait bounds the post-submit navigation wait. Expiry is not a
	// failure; the flow re-checks the URL it actually landed on.
	LoginWait time.Duration `yaml:"login_wait"`
	// SettleWait is the pause after a page load for its scripts to run.
	SettleWait time.Duration `yaml:"settle_wait"`
	// NavBackoff is the base pause between page-load retry attempts.
	NavBackoff time.Duration `yaml:"nav_backoff"`
}

// LoadConfig reads a YAML service configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills the zero timeouts. URLs stay empty; they are
// deployment configuration with no sensible default.
func (c *Config) ApplyDefaults() {
	if c.Site.NavTimeout <= 0 {
		c.Site.NavTimeout = 30 * time.Second
	}
	if c.Site.LoginWait <= 0 {
		c.Site.LoginWait = 15 * time.Second
	}
	if c.Site.SettleWait <= 0 {
		c.Site.SettleWait = 2 * time.Second
	}
	if c.Site.NavBackoff <= 0 {
		c.Site.NavBackoff = navBackoff
	}
	c.Browser.ApplyDefaults()
}
