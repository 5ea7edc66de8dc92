// Package cachekey centralizes the Hot Cache key namespaces so the
// Resolver, Relation Ingestor, and Search Coordinator never drift on
// layout.  Keys are relative; the Redis cache adds the process-wide
// prefix.
package cachekey

import (
	"fmt"

	"github.com/turtacn/paperd/internal/domain/citation"
)

// PaperFull addresses the merged superset record for one paper.
func PaperFull(paperID string) string {
	return "paper:" + paperID + ":full"
}

// PaperPrefix addresses every key belonging to one paper, for
// invalidation.
func PaperPrefix(paperID string) string {
	return "paper:" + paperID + ":"
}

// Negative addresses the short-TTL marker for a confirmed NotFound.
func Negative(paperID string) string {
	return "neg:paper:" + paperID
}

// Relations addresses the merged relation view for one (paper, kind).
func Relations(paperID string, kind citation.Kind) string {
	return fmt.Sprintf("paper:%s:relations:%s", paperID, kind)
}

// RelationPage addresses one raw ingested page.
func RelationPage(paperID string, kind citation.Kind, pageIndex int) string {
	return fmt.Sprintf("paper:%s:relations:%s:page:%d", paperID, kind, pageIndex)
}

// IngestProgress addresses the cached ingest cursor for one (paper, kind).
func IngestProgress(paperID string, kind citation.Kind) string {
	return fmt.Sprintf("paper:%s:ingest_progress:%s", paperID, kind)
}

// Search addresses a fingerprinted search result.
func Search(fingerprint string) string {
	return "search:" + fingerprint
}

// PaperFlight names the single-flight token guarding one paper fetch.
func PaperFlight(paperID string) string {
	return "paper:" + paperID
}

// IngestFlight names the single-flight token guarding one ingest task.
func IngestFlight(paperID string, kind citation.Kind) string {
	return fmt.Sprintf("ingest:%s:%s", paperID, kind)
}
