package rbs

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/text/language"
)

// Region selects the backend cluster when Config.BaseURL is empty.
type Region int

const (
	RegionEuWest1 Region = iota
	RegionEuWest1Beta
)

// DefaultClientID identifies end-user clients to the anonymous endpoint.
const DefaultClientID = "rbs.user.enduser"

const defaultCulture = "en-US"

func (r Region) String() string {
	switch r {
	case RegionEuWest1:
		return "eu-west-1"
	case RegionEuWest1Beta:
		return "eu-west-1-beta"
	default:
		return fmt.Sprintf("region(%d)", int(r))
	}
}

// BaseURL returns the API root for the region.
func (r Region) BaseURL() string {
	switch r {
	case RegionEuWest1Beta:
		return "https://core-test.rettermobile.com"
	default:
		return "https://core.rtbs.io"
	}
}

// ParseRegion accepts the names returned by Region.String.
func ParseRegion(s string) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "eu-west-1":
		return RegionEuWest1, nil
	case "eu-west-1-beta", "beta":
		return RegionEuWest1Beta, nil
	default:
		return 0, &ConfigurationError{Field: "region", Reason: fmt.Sprintf("unknown region %q", s)}
	}
}

// Config is fixed for the lifetime of a Client.
type Config struct {
	// ProjectID is required. Stored tokens issued for another project are
	// never used.
	ProjectID string

	Region Region

	// BaseURL overrides the region's API root.
	BaseURL string

	// RealtimeURL overrides the socket endpoint derived from the API root.
	RealtimeURL string

	DeveloperID string
	ServiceID   string

	// ClientID defaults to DefaultClientID.
	ClientID string

	// Culture is sent as Accept-Language. Defaults to the system locale.
	Culture string

	// Logging enables SDK logs on stderr when no logger option is given.
	Logging bool
}

// normalize validates c and fills in defaults.
func (c Config) normalize() (Config, error) {
	c.ProjectID = strings.TrimSpace(c.ProjectID)
	if c.ProjectID == "" {
		return c, &ConfigurationError{Field: "project id", Reason: "must not be empty"}
	}
	if strings.ContainsAny(c.ProjectID, "/?# ") {
		return c, &ConfigurationError{Field: "project id", Reason: "contains reserved characters"}
	}

	if c.BaseURL == "" {
		c.BaseURL = c.Region.BaseURL()
	}
	c.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c, &ConfigurationError{Field: "base url", Reason: fmt.Sprintf("%q is not an absolute http(s) url", c.BaseURL)}
	}

	if c.RealtimeURL == "" {
		c.RealtimeURL = c.BaseURL + "/realtime"
	}

	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}

	if c.Culture == "" {
		c.Culture = systemCulture()
	} else {
		tag, err := language.Parse(c.Culture)
		if err != nil {
			return c, &ConfigurationError{Field: "culture", Reason: err.Error()}
		}
		c.Culture = tag.String()
	}

	return c, nil
}

// systemCulture derives a BCP 47 tag from the POSIX locale variables.
func systemCulture() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if tag, ok := parseLocale(os.Getenv(key)); ok {
			return tag
		}
	}
	return defaultCulture
}

// parseLocale turns values such as "tr_TR.UTF-8" into "tr-TR".
func parseLocale(v string) (string, bool) {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	if v == "" || v == "C" || v == "POSIX" {
		return "", false
	}
	tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
	if err != nil {
		return "", false
	}
	return tag.String(), true
}
