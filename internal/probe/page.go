package probe

import "strings"

// Page is the read-only view of an observed document. Implementations wrap
// whatever DOM access the host context provides; tests use a fake.
type Page interface {
	// URL returns the page's current location.
	URL() string

	// Query reports whether any element matches the CSS selector.
	Query(selector string) (bool, error)

	// Contains reports whether marker occurs in the page's visible text
	// or URL.
	Contains(marker string) bool
}

// MutationKind discriminates observed DOM mutations.
type MutationKind int

const (
	// MutationAttribute is an attribute change on an existing node.
	MutationAttribute MutationKind = iota

	// MutationChildList is a node addition or removal.
	MutationChildList
)

// NodeSummary carries the fields of an added or removed node that matter
// for relevance filtering.
type NodeSummary struct {
	Text      string
	Class     string
	AriaLabel string
}

// Mutation is one observed DOM change.
type Mutation struct {
	Kind      MutationKind
	Attribute string        // MutationAttribute only
	Nodes     []NodeSummary // MutationChildList only
}

// voiceKeywords flag a mutated node as possibly voice-related.
var voiceKeywords = []string{
	"voice", "mic", "microphone", "speech", "listening", "dictation",
	"음성", "마이크", "듣는", "받아쓰기",
}

// relevant reports whether m can possibly affect the listening state under
// the given profile: either a watched attribute changed, or a node with
// voice-related text came or went.
func relevant(m Mutation, p Profile) bool {
	switch m.Kind {
	case MutationAttribute:
		for _, attr := range p.Attributes {
			if attr == m.Attribute {
				return true
			}
		}
		return false
	case MutationChildList:
		for _, n := range m.Nodes {
			if hasVoiceKeyword(n.Text) || hasVoiceKeyword(n.Class) || hasVoiceKeyword(n.AriaLabel) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func hasVoiceKeyword(s string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, kw := range voiceKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
