package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// PapersClient exposes the paper proxy surface.
type PapersClient struct {
	client *Client
}

// Paper is a projected paper record: the server returns exactly the
// requested field subset, so the shape is an open map.
type Paper = map[string]any

// RelationPage is the citations/references window shape.
type RelationPage struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Data   []Paper `json:"data"`
}

// SearchPage is the search result shape.
type SearchPage struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Data   []Paper `json:"data"`
	Papers []Paper `json:"papers"`
}

// Window bounds a relation or search page.
type Window struct {
	Offset int
	Limit  int
}

func fieldsQuery(fields string) string {
	if fields == "" {
		return ""
	}
	return "?fields=" + url.QueryEscape(fields)
}

// refPath renders a reference into a path segment.  References keep
// their raw form (including DOI slashes) — the server routes on suffix,
// not on segment count.
func refPath(ref string) string {
	return "/paper/" + ref
}

// Get fetches one paper by canonical id or prefixed external id.
func (pc *PapersClient) Get(ctx context.Context, ref, fields string) (Paper, error) {
	var out Paper
	if err := pc.client.get(ctx, refPath(ref)+fieldsQuery(fields), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Citations fetches one window of the paper's citation list.
func (pc *PapersClient) Citations(ctx context.Context, ref string, w Window, fields string) (*RelationPage, error) {
	return pc.relations(ctx, ref, "citations", w, fields)
}

// References fetches one window of the paper's reference list.
func (pc *PapersClient) References(ctx context.Context, ref string, w Window, fields string) (*RelationPage, error) {
	return pc.relations(ctx, ref, "references", w, fields)
}

func (pc *PapersClient) relations(ctx context.Context, ref, kind string, w Window, fields string) (*RelationPage, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(w.Offset))
	if w.Limit > 0 {
		query.Set("limit", strconv.Itoa(w.Limit))
	}
	if fields != "" {
		query.Set("fields", fields)
	}
	var out RelationPage
	path := fmt.Sprintf("%s/%s?%s", refPath(ref), kind, query.Encode())
	if err := pc.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batch fetches up to 500 papers in one call; the result preserves input
// order with nil entries for unresolved references.
func (pc *PapersClient) Batch(ctx context.Context, refs []string, fields string) ([]Paper, error) {
	body := map[string]any{"ids": refs}
	if fields != "" {
		body["fields"] = fields
	}
	var out []Paper
	if err := pc.client.post(ctx, "/paper/batch", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchOptions narrow a search query.
type SearchOptions struct {
	Year          string
	Venue         string
	FieldsOfStudy string
	OpenAccessPDF bool
	Window        Window
	Fields        string
}

// Search runs a relevance query through the proxy's search cache.
func (pc *PapersClient) Search(ctx context.Context, query string, opts SearchOptions) (*SearchPage, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("offset", strconv.Itoa(opts.Window.Offset))
	if opts.Window.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Window.Limit))
	}
	if opts.Fields != "" {
		params.Set("fields", opts.Fields)
	}
	if opts.Year != "" {
		params.Set("year", opts.Year)
	}
	if opts.Venue != "" {
		params.Set("venue", opts.Venue)
	}
	if opts.FieldsOfStudy != "" {
		params.Set("fieldsOfStudy", opts.FieldsOfStudy)
	}
	if opts.OpenAccessPDF {
		params.Set("openAccessPdf", "")
	}

	var out SearchPage
	if err := pc.client.get(ctx, "/paper/search?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Similar returns the embedding-nearest neighbors of one paper.
func (pc *PapersClient) Similar(ctx context.Context, ref string, limit int) ([]Paper, error) {
	path := refPath(ref) + "/similar"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Data []Paper `json:"data"`
	}
	if err := pc.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// InvalidateCache drops every hot-cache entry for the paper; the graph
// store is untouched.
func (pc *PapersClient) InvalidateCache(ctx context.Context, ref string) error {
	return pc.client.delete(ctx, refPath(ref)+"/cache", nil)
}

// WarmCache fetches the paper if absent and populates the hot cache.
func (pc *PapersClient) WarmCache(ctx context.Context, ref string) error {
	return pc.client.post(ctx, refPath(ref)+"/cache/warm", nil, nil)
}
