// Package paper defines the canonical Paper record: the schema-free,
// superset shape the Graph Store persists and the Projector (see
// internal/application/projector) reduces on every read.
package paper

import "time"

// IngestStatus distinguishes a paper fetched in its own right from one
// created only as a neighbor reference during edge merge.
type IngestStatus string

const (
	StatusStub IngestStatus = "stub"
	StatusFull IngestStatus = "full"
)

// Author is an ordered entry in a Paper's author list.
type Author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

// OpenAccessPDF describes the open-access artifact Upstream advertises,
// and (once mirrored) the object-storage key it was cached under.
type OpenAccessPDF struct {
	URL        string `json:"url"`
	Status     string `json:"status,omitempty"`
	ObjectKey  string `json:"objectKey,omitempty"`
}

// Embedding is a paper's vector representation plus the model that
// produced it, used by the Search Coordinator's similarity extension.
type Embedding struct {
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

// Journal is the venue/journal descriptor Upstream attaches to a paper.
type Journal struct {
	Name   string `json:"name,omitempty"`
	Volume string `json:"volume,omitempty"`
	Pages  string `json:"pages,omitempty"`
}

// Paper is the canonical entity, keyed by an opaque, immutable paper_id
// assigned by Upstream. It is the single superset record the Graph Store
// and Hot Cache hold; the Projector reduces it to a caller's requested
// field subset on read.
type Paper struct {
	PaperID              string         `json:"paperId"`
	Title                string         `json:"title,omitempty"`
	Abstract             string         `json:"abstract,omitempty"`
	Venue                string         `json:"venue,omitempty"`
	Year                 *int           `json:"year,omitempty"`
	PublicationDate      string         `json:"publicationDate,omitempty"`
	Authors              []Author       `json:"authors,omitempty"`
	CitationCount        int            `json:"citationCount,omitempty"`
	ReferenceCount       int            `json:"referenceCount,omitempty"`
	InfluentialCitationCount int        `json:"influentialCitationCount,omitempty"`
	IsOpenAccess         bool           `json:"isOpenAccess,omitempty"`
	OpenAccessPdf        *OpenAccessPDF `json:"openAccessPdf,omitempty"`
	FieldsOfStudy        []string       `json:"fieldsOfStudy,omitempty"`
	PublicationTypes     []string       `json:"publicationTypes,omitempty"`
	Journal              *Journal       `json:"journal,omitempty"`
	CitationStyles       map[string]string `json:"citationStyles,omitempty"`
	TLDR                 string         `json:"tldr,omitempty"`
	Embedding            *Embedding     `json:"embedding,omitempty"`
	ExternalIDs          map[string]string `json:"externalIds,omitempty"`

	FetchedAt          time.Time    `json:"fetchedAt,omitempty"`
	MetadataUpdatedAt  time.Time    `json:"metadataUpdatedAt,omitempty"`
	IngestStatus       IngestStatus `json:"ingestStatus,omitempty"`

	// DataMayBeOutdated is set by the Resolver when a stale Graph Store
	// copy is served because Upstream was unavailable (spec §7).
	DataMayBeOutdated bool `json:"dataMayBeOutdated,omitempty"`
}

// IsFresh reports whether the record's metadata is within window of now.
func (p *Paper) IsFresh(now time.Time, window time.Duration) bool {
	if p.MetadataUpdatedAt.IsZero() {
		return false
	}
	return now.Sub(p.MetadataUpdatedAt) < window
}

// NeighborRef is the minimal shape Upstream gives for a citation/reference
// neighbor that has not been fetched in its own right — just enough to
// create a stub node.
type NeighborRef struct {
	PaperID string `json:"paperId"`
	Title   string `json:"title,omitempty"`
}

// AsMap renders the Paper as a schema-free map[string]any, the shape the
// Projector (internal/application/projector) actually operates over. This
// is the one conversion point between the typed domain entity and the
// tagged-union record the spec treats as canonical on the wire.
func (p *Paper) AsMap() map[string]any {
	out := map[string]any{"paperId": p.PaperID}
	if p.Title != "" {
		out["title"] = p.Title
	}
	if p.Abstract != "" {
		out["abstract"] = p.Abstract
	}
	if p.Venue != "" {
		out["venue"] = p.Venue
	}
	if p.Year != nil {
		out["year"] = *p.Year
	}
	if p.PublicationDate != "" {
		out["publicationDate"] = p.PublicationDate
	}
	if len(p.Authors) > 0 {
		authors := make([]any, len(p.Authors))
		for i, a := range p.Authors {
			authors[i] = map[string]any{"authorId": a.AuthorID, "name": a.Name}
		}
		out["authors"] = authors
	}
	out["citationCount"] = p.CitationCount
	out["referenceCount"] = p.ReferenceCount
	out["influentialCitationCount"] = p.InfluentialCitationCount
	out["isOpenAccess"] = p.IsOpenAccess
	if p.OpenAccessPdf != nil {
		out["openAccessPdf"] = map[string]any{
			"url":    p.OpenAccessPdf.URL,
			"status": p.OpenAccessPdf.Status,
		}
	}
	if len(p.FieldsOfStudy) > 0 {
		out["fieldsOfStudy"] = toAnySlice(p.FieldsOfStudy)
	}
	if len(p.PublicationTypes) > 0 {
		out["publicationTypes"] = toAnySlice(p.PublicationTypes)
	}
	if p.Journal != nil {
		out["journal"] = map[string]any{"name": p.Journal.Name, "volume": p.Journal.Volume, "pages": p.Journal.Pages}
	}
	if len(p.CitationStyles) > 0 {
		styles := map[string]any{}
		for k, v := range p.CitationStyles {
			styles[k] = v
		}
		out["citationStyles"] = styles
	}
	if p.TLDR != "" {
		out["tldr"] = p.TLDR
	}
	if len(p.ExternalIDs) > 0 {
		ids := map[string]any{}
		for k, v := range p.ExternalIDs {
			ids[k] = v
		}
		out["externalIds"] = ids
	}
	if p.DataMayBeOutdated {
		out["dataMayBeOutdated"] = true
	}
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
