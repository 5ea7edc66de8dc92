package alias

import (
	"fmt"
	"strconv"

	"github.com/turtacn/paperd/pkg/errors"
)

// ParsedRef is the outcome of strict raw-reference parsing: either a
// canonical 40-hex paper id (passthrough, no index lookup needed) or one
// normalized alias to resolve.
type ParsedRef struct {
	Canonical string
	Kind      Kind
	Value     string
}

// IsCanonical reports whether the raw reference was a canonical paper id.
func (r *ParsedRef) IsCanonical() bool {
	return r.Canonical != ""
}

// Upstream renders the reference the way the Upstream API addresses it:
// canonical ids verbatim, aliases as "KIND:value".
func (r *ParsedRef) Upstream() string {
	if r.IsCanonical() {
		return r.Canonical
	}
	return string(r.Kind) + ":" + r.Value
}

// ParseRef applies the strict inbound ID rule: a raw 40-hex token is a
// canonical paper id; any other token must carry a recognized prefix.
// Everything else is a PaperRefInvalid error with no side effects.
func ParseRef(raw string) (*ParsedRef, error) {
	if raw == "" {
		return nil, errors.New(errors.ErrCodePaperRefInvalid, "empty paper reference")
	}
	if IsCanonicalPaperID(raw) {
		return &ParsedRef{Canonical: raw}, nil
	}
	kind, value, ok := SplitPrefixed(raw)
	if !ok {
		return nil, errors.New(errors.ErrCodePaperRefInvalid,
			fmt.Sprintf("reference %q is neither a 40-hex paper id nor a prefixed external id", raw))
	}
	normalized, err := Normalize(kind, value)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePaperRefInvalid, "reference failed normalization")
	}
	return &ParsedRef{Kind: kind, Value: normalized}, nil
}

// externalIDKeys maps Upstream's externalIds map keys onto alias kinds,
// following the upstream JSON convention (PubMed/PubMedCentral rather
// than PMID/PMCID).
var externalIDKeys = map[string]Kind{
	"DOI":           KindDOI,
	"ArXiv":         KindARXIV,
	"CorpusId":      KindCorpusID,
	"MAG":           KindMAG,
	"ACL":           KindACL,
	"PubMed":        KindPMID,
	"PubMedCentral": KindPMCID,
	"URL":           KindURL,
}

// FromRecord derives every recordable alias from a fetched paper record:
// each entry of externalIds plus the normalized title.  Values that fail
// normalization are skipped; a partially aliased paper is still
// resolvable by its remaining ids.
func FromRecord(paperID string, record map[string]any) []Alias {
	var out []Alias
	if ids, ok := record["externalIds"].(map[string]any); ok {
		for key, kind := range externalIDKeys {
			raw, ok := ids[key]
			if !ok || raw == nil {
				continue
			}
			value := stringifyID(raw)
			if value == "" {
				continue
			}
			normalized, err := Normalize(kind, value)
			if err != nil || normalized == "" {
				continue
			}
			out = append(out, Alias{Kind: kind, NormalizedValue: normalized, PaperID: paperID})
		}
	}
	if title, ok := record["title"].(string); ok {
		if normalized := NormalizeTitle(title); normalized != "" {
			out = append(out, Alias{Kind: KindTitleNorm, NormalizedValue: normalized, PaperID: paperID})
		}
	}
	return out
}

// stringifyID renders an external id that JSON may deliver as a string
// or a number (CorpusId, MAG).
func stringifyID(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		return strconv.FormatInt(int64(tv), 10)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	default:
		return ""
	}
}
