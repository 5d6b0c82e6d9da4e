package models

// Query is a masked filter: a document matches when it equals the query
// on every field the query names. Nested objects are matched the same
// way; any other value, arrays included, has to be equal.
type Query map[string]any

// Empty reports whether the query selects every document.
func (q Query) Empty() bool {
	return len(q) == 0
}
