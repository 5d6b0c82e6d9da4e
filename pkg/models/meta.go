package models

// Meta is the bookkeeping written under FieldMeta when a store tracks
// metadata. Times are unix milliseconds.
type Meta struct {
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	Store     string `json:"store"`
}

// Map renders the meta as a plain map so it survives every engine codec.
func (m Meta) Map() map[string]any {
	return map[string]any{
		"createdAt": m.CreatedAt,
		"updatedAt": m.UpdatedAt,
		"store":     m.Store,
	}
}

// MetaOf reads the metadata of a stored document. Numbers may come back
// as any numeric kind depending on the engine codec.
func MetaOf(d Document) (Meta, bool) {
	raw, ok := AsDocument(d[FieldMeta])
	if !ok {
		return Meta{}, false
	}
	m := Meta{
		CreatedAt: toInt64(raw["createdAt"]),
		UpdatedAt: toInt64(raw["updatedAt"]),
	}
	m.Store, _ = raw["store"].(string)
	return m, true
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
