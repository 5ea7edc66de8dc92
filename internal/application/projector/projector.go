// Package projector reduces a full paper record to a caller-requested
// field subset.  It is the single implementation of the field-expression
// grammar: comma-separated paths, each a dot-separated sequence of names
// (e.g. "title,authors.name,citations.title").
//
// The projector is pure: it never fetches, never mutates its input, and
// projecting an already-projected record with the same expression is a
// no-op.
package projector

import (
	"sort"
	"strings"
)

// identityKeys are always retained on any object they appear in, so that
// projected records and array elements stay addressable.
var identityKeys = []string{"paperId", "authorId"}

// Expr is a parsed field expression: a trie of path segments.  A node
// with no children selects the entire subtree at that path.
type Expr struct {
	children map[string]*Expr
}

// Parse builds an Expr from the comma/dot grammar.  An empty expression
// yields the default projection (identity keys plus title).  Parse never
// fails: empty segments are dropped, matching Upstream's lenient
// treatment of malformed field lists.
func Parse(fieldExpr string) *Expr {
	root := &Expr{children: map[string]*Expr{}}
	for _, path := range strings.Split(fieldExpr, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		node := root
		for _, seg := range strings.Split(path, ".") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			if node.children == nil {
				node.children = map[string]*Expr{}
			}
			child, ok := node.children[seg]
			if !ok {
				child = &Expr{children: map[string]*Expr{}}
				node.children[seg] = child
			}
			node = child
		}
	}
	if len(root.children) == 0 {
		root.children["title"] = &Expr{}
	}
	return root
}

// IsDefault reports whether the expression came from an empty field list.
func (e *Expr) IsDefault() bool {
	if len(e.children) != 1 {
		return false
	}
	child, ok := e.children["title"]
	return ok && len(child.children) == 0
}

// Paths renders the expression back to its canonical comma/dot form,
// with deterministic ordering.  Useful for cache fingerprints and logs.
func (e *Expr) Paths() []string {
	var out []string
	var walk func(node *Expr, prefix string)
	walk = func(node *Expr, prefix string) {
		if len(node.children) == 0 {
			out = append(out, prefix)
			return
		}
		keys := make([]string, 0, len(node.children))
		for k := range node.children {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			walk(node.children[k], p)
		}
	}
	walk(e, "")
	return out
}

// Project applies the expression to a record.  Requested fields missing
// from the source are absent from the output (not null); identity keys
// are always carried; nested arrays are projected elementwise.
func Project(record map[string]any, expr *Expr) map[string]any {
	if record == nil {
		return nil
	}
	return projectObject(record, expr)
}

// ProjectAll projects each record in a slice, preserving order and nils.
func ProjectAll(records []map[string]any, expr *Expr) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		if r == nil {
			continue
		}
		out[i] = projectObject(r, expr)
	}
	return out
}

func projectObject(obj map[string]any, expr *Expr) map[string]any {
	out := make(map[string]any, len(expr.children)+1)
	for _, key := range identityKeys {
		if v, ok := obj[key]; ok {
			out[key] = v
		}
	}
	for name, child := range expr.children {
		v, ok := obj[name]
		if !ok {
			continue
		}
		out[name] = projectValue(v, child)
	}
	return out
}

func projectValue(v any, expr *Expr) any {
	// A leaf selects the whole subtree verbatim.
	if len(expr.children) == 0 {
		return v
	}
	switch tv := v.(type) {
	case map[string]any:
		return projectObject(tv, expr)
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			out[i] = projectValue(elem, expr)
		}
		return out
	default:
		// A scalar under a deeper path: the requested subpath cannot
		// exist, so keep the scalar as-is rather than fabricating nulls.
		return v
	}
}
