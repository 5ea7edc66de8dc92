package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/paperd/pkg/errors"
)

const canonical = "649def34f8be52c8b66281af98ae884c09aef38b"

func TestParseRef_CanonicalPassthrough(t *testing.T) {
	ref, err := ParseRef(canonical)
	require.NoError(t, err)
	assert.True(t, ref.IsCanonical())
	assert.Equal(t, canonical, ref.Canonical)
	assert.Equal(t, canonical, ref.Upstream())
}

func TestParseRef_PrefixedAliasIsNormalized(t *testing.T) {
	ref, err := ParseRef("ARXIV:2106.15928v2")
	require.NoError(t, err)
	assert.False(t, ref.IsCanonical())
	assert.Equal(t, KindARXIV, ref.Kind)
	assert.Equal(t, "2106.15928", ref.Value, "version suffix is stripped")
	assert.Equal(t, "ARXIV:2106.15928", ref.Upstream())
}

func TestParseRef_DOICaseFolded(t *testing.T) {
	ref, err := ParseRef("DOI:10.18653/v1/N18-3011")
	require.NoError(t, err)
	assert.Equal(t, KindDOI, ref.Kind)
	assert.Equal(t, "10.18653/v1/n18-3011", ref.Value)
}

func TestParseRef_RejectsBareToken(t *testing.T) {
	for _, raw := range []string{"not-an-id", "12345", "649def34", ""} {
		_, err := ParseRef(raw)
		require.Error(t, err, "raw %q", raw)
		assert.Equal(t, errors.ErrCodePaperRefInvalid, errors.GetCode(err))
	}
}

func TestParseRef_RejectsUnknownPrefix(t *testing.T) {
	_, err := ParseRef("ISBN:978-3-16-148410-0")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePaperRefInvalid, errors.GetCode(err))
}

func TestParseRef_RejectsMalformedValue(t *testing.T) {
	_, err := ParseRef("CORPUS_ID:not-a-number")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePaperRefInvalid, errors.GetCode(err))
}

func TestFromRecord_DerivesAllAliasKinds(t *testing.T) {
	record := map[string]any{
		"paperId": canonical,
		"title":   "Construction of the Literature Graph in Semantic Scholar",
		"externalIds": map[string]any{
			"DOI":           "10.18653/v1/N18-3011",
			"ArXiv":         "1805.02262v1",
			"CorpusId":      float64(19170988),
			"PubMed":        "123456",
			"PubMedCentral": "PMC999",
			"ACL":           "N18-3011",
			"MAG":           float64(2798763960),
		},
	}

	aliases := FromRecord(canonical, record)

	byKind := map[Kind]string{}
	for _, a := range aliases {
		byKind[a.Kind] = a.NormalizedValue
		assert.Equal(t, canonical, a.PaperID)
	}
	assert.Equal(t, "10.18653/v1/n18-3011", byKind[KindDOI])
	assert.Equal(t, "1805.02262", byKind[KindARXIV])
	assert.Equal(t, "19170988", byKind[KindCorpusID])
	assert.Equal(t, "123456", byKind[KindPMID])
	assert.Equal(t, "PMC999", byKind[KindPMCID])
	assert.Equal(t, "N18-3011", byKind[KindACL])
	assert.Equal(t, "2798763960", byKind[KindMAG])
	assert.NotEmpty(t, byKind[KindTitleNorm])
}

func TestFromRecord_SkipsNullAndMalformedIDs(t *testing.T) {
	record := map[string]any{
		"title": "Some Paper",
		"externalIds": map[string]any{
			"DOI":   nil,
			"ArXiv": "2106.15928",
		},
	}

	aliases := FromRecord(canonical, record)

	kinds := map[Kind]bool{}
	for _, a := range aliases {
		kinds[a.Kind] = true
	}
	assert.False(t, kinds[KindDOI])
	assert.True(t, kinds[KindARXIV])
	assert.True(t, kinds[KindTitleNorm])
}

func TestFromRecord_NoExternalIDsStillYieldsTitleAlias(t *testing.T) {
	aliases := FromRecord(canonical, map[string]any{"title": "Only A Title"})
	require.Len(t, aliases, 1)
	assert.Equal(t, KindTitleNorm, aliases[0].Kind)
}
