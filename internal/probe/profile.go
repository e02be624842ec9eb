// Package probe infers whether an observed page is currently listening for
// voice input.
//
// The probe classifies a page to a site class, picks the matching selector
// profile from the embedded catalogue, then combines throttled
// mutation-driven checks with interval polling. Only state edges are
// reported: consecutive identical observations are silent.
//
// The probe never writes to the observed page and never lets a faulty
// selector escape as a panic.
package probe

import (
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

// SiteClass identifies which selector profile applies to a page.
type SiteClass string

const (
	SiteChatGPT SiteClass = "chatgpt"
	SiteGoogle  SiteClass = "google"
	SitePapago  SiteClass = "papago"
	SiteNaver   SiteClass = "naver"
	SiteYouTube SiteClass = "youtube"
	SiteGeneric SiteClass = "generic"
)

// Profile is the selector set and tuning for one site class.
type Profile struct {
	// Hosts lists hostnames that classify to this profile.
	Hosts []string `yaml:"hosts"`

	// EntrySelectors locate the page's voice entry element.
	EntrySelectors []string `yaml:"entry_selectors"`

	// ActiveSelectors locate an "actively listening" indicator.
	ActiveSelectors []string `yaml:"active_selectors"`

	// Attributes lists attribute names whose mutations are relevant.
	Attributes []string `yaml:"attributes"`

	// Markers are text or URL fragments that indicate listening.
	Markers []string `yaml:"markers"`

	// PollInterval is the cadence of selector polling.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Retries bounds consecutive selector failures before the probe falls
	// back to the generic profile for the remainder of the page's life.
	Retries int `yaml:"retries"`
}

type catalogue struct {
	Profiles map[SiteClass]Profile `yaml:"profiles"`
}

// profiles is the embedded catalogue, loaded at init.
var profiles map[SiteClass]Profile

func init() {
	var c catalogue
	if err := yaml.Unmarshal(profilesYAML, &c); err != nil {
		panic(fmt.Sprintf("probe: parse embedded profiles: %v", err))
	}
	if _, ok := c.Profiles[SiteGeneric]; !ok {
		panic("probe: embedded profiles missing generic entry")
	}
	profiles = c.Profiles
}

// Classify maps a page URL to its site class. Unparseable URLs and unknown
// hosts classify as generic.
func Classify(rawURL string) SiteClass {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SiteGeneric
	}
	host := u.Hostname()
	for class, p := range profiles {
		for _, h := range p.Hosts {
			if h == host {
				return class
			}
		}
	}
	return SiteGeneric
}

// ProfileFor returns the selector profile for a site class.
func ProfileFor(class SiteClass) Profile {
	if p, ok := profiles[class]; ok {
		return p
	}
	return profiles[SiteGeneric]
}
