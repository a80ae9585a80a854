// Package docstore persists the structured document set and its link graph.
//
// Documents live as markdown files with YAML frontmatter under
// <workspace>/docs. The store guarantees per-path write exclusivity,
// atomic split-then-reindex, and a full index rebuild after any split or
// top-level creation.
package docstore
