// Package alias implements the external-identifier alias index's
// normalization rules: one stable, deterministic function per alias
// kind, generalizing original_source's external_id_mapping.py and
// title_norm.py into pure Go functions with no storage dependency.
package alias

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Kind is one of the nine external-identifier namespaces spec.md §3/§4.2
// defines. The pair (Kind, NormalizedValue) is globally unique.
type Kind string

const (
	KindDOI       Kind = "DOI"
	KindARXIV     Kind = "ARXIV"
	KindCorpusID  Kind = "CORPUS_ID"
	KindMAG       Kind = "MAG"
	KindACL       Kind = "ACL"
	KindPMID      Kind = "PMID"
	KindPMCID     Kind = "PMCID"
	KindURL       Kind = "URL"
	KindTitleNorm Kind = "TITLE_NORM"
)

// Alias is a (kind, normalized_value) -> paper_id tuple.
type Alias struct {
	Kind            Kind
	NormalizedValue string
	PaperID         string
}

// prefixToKind is the strict prefix table spec.md §4.2/§6 requires for
// raw reference parsing, e.g. "DOI:10.1/x" or "ARXIV:2106.15928".
var prefixToKind = map[string]Kind{
	"DOI":       KindDOI,
	"ARXIV":     KindARXIV,
	"CORPUS_ID": KindCorpusID,
	"MAG":       KindMAG,
	"ACL":       KindACL,
	"PMID":      KindPMID,
	"PMCID":     KindPMCID,
	"URL":       KindURL,
}

// KindFromPrefix maps a raw reference's uppercase prefix to a Kind, per
// the allowed-prefix table in original_source's ExternalIdTypes.from_prefix.
func KindFromPrefix(prefix string) (Kind, bool) {
	k, ok := prefixToKind[strings.ToUpper(prefix)]
	return k, ok
}

var canonicalIDPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsCanonicalPaperID reports whether raw is a 40-hex-character token,
// the canonical paper_id passthrough convention of spec.md §4.2/§6.
func IsCanonicalPaperID(raw string) bool {
	return canonicalIDPattern.MatchString(strings.ToLower(raw))
}

// SplitPrefixed splits "KIND:value" into (kind, value, true); returns
// false if raw carries no recognized colon-delimited prefix.
func SplitPrefixed(raw string) (Kind, string, bool) {
	idx := strings.Index(raw, ":")
	if idx < 0 {
		return "", "", false
	}
	kind, ok := KindFromPrefix(raw[:idx])
	if !ok {
		return "", "", false
	}
	return kind, raw[idx+1:], true
}

// Normalize applies the kind-specific normalization rule from spec.md
// §4.2's table. Returns an error if value does not normalize to a
// non-empty result.
func Normalize(kind Kind, value string) (string, error) {
	switch kind {
	case KindDOI:
		return normalizeDOI(value), nil
	case KindARXIV:
		return normalizeArxiv(value), nil
	case KindCorpusID:
		return normalizeCorpusID(value)
	case KindMAG, KindACL, KindPMID, KindPMCID:
		return normalizeTrimUpper(value), nil
	case KindURL:
		return normalizeURL(value)
	case KindTitleNorm:
		n := NormalizeTitle(value)
		if n == "" {
			return "", fmt.Errorf("alias: title normalizes to empty string")
		}
		return n, nil
	default:
		return "", fmt.Errorf("alias: unknown kind %q", kind)
	}
}

func normalizeDOI(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimPrefix(v, "doi:")
	v = strings.TrimPrefix(v, "https://doi.org/")
	v = strings.TrimPrefix(v, "http://doi.org/")
	return v
}

var arxivVersionSuffix = regexp.MustCompile(`v\d+$`)

func normalizeArxiv(v string) string {
	v = strings.TrimSpace(v)
	v = arxivVersionSuffix.ReplaceAllString(v, "")
	return v
}

func normalizeCorpusID(v string) (string, error) {
	v = strings.TrimSpace(v)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return "", fmt.Errorf("alias: CORPUS_ID must be a decimal integer: %w", err)
	}
	return strconv.FormatInt(n, 10), nil
}

func normalizeTrimUpper(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

var trackingParamPrefix = "utm_"

func normalizeURL(v string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("alias: invalid URL: %w", err)
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if strings.HasPrefix(strings.ToLower(key), trackingParamPrefix) {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	return strings.ToLower(u.Scheme) + "://" + u.Host + u.Path + queryOrEmpty(u.RawQuery), nil
}

func queryOrEmpty(q string) string {
	if q == "" {
		return ""
	}
	return "?" + q
}

// NormalizeTitle implements the TITLE_NORM rule: lowercase, collapse
// whitespace, strip punctuation/symbols, NFKC-normalize. Returns "" if
// the result is empty, grounded in original_source's
// utils/title_norm.normalize_title_norm.
func NormalizeTitle(title string) string {
	t := strings.ToLower(title)
	t = strings.ReplaceAll(t, "\t", " ")
	t = norm.NFKC.String(t)

	var b strings.Builder
	lastWasSpace := false
	for _, r := range t {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
