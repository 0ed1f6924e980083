package cache

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// decodeValue turns a value read from a store into T. In-process stores hand
// back the value as written, returned here without a copy. Serializing
// stores hand back JSON.
func decodeValue[T any](raw any) (T, error) {
	var out T
	switch v := raw.(type) {
	case T:
		return v, nil
	case []byte:
		if err := json.Unmarshal(v, &out); err != nil {
			return out, errors.Wrapf(err, "cache: decode %T", out)
		}
		return out, nil
	case string:
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return out, errors.Wrapf(err, "cache: decode %T", out)
		}
		return out, nil
	}
	return out, errors.Newf("cache: cannot decode %T into %T", raw, out)
}

// decodeQueryResult restores a cached query result. Serialized results carry
// their key references in records, which are reattached through attach.
func decodeQueryResult[K, E any](raw any, attach func(K, E) E) (QueryResult[E], error) {
	switch v := raw.(type) {
	case QueryResult[E]:
		return v, nil
	case *QueryResult[E]:
		return *v, nil
	}

	rec, err := decodeValue[queryRecord[K, E]](raw)
	if err != nil {
		return QueryResult[E]{}, err
	}
	return rec.unmarshal(attach), nil
}

func (r queryRecord[K, E]) unmarshal(attach func(K, E) E) QueryResult[E] {
	out := QueryResult[E]{Meta: r.Meta, Entities: make([]E, len(r.Entities))}
	for i, rec := range r.Entities {
		if rec.Key == nil {
			out.Entities[i] = rec.Entity
			continue
		}
		out.Entities[i] = attach(*rec.Key, rec.Entity)
	}
	return out
}

// marshalQueryResult pairs every entity with its key reference.
func marshalQueryResult[K, E any](result QueryResult[E], extract func(E) (K, bool)) queryRecord[K, E] {
	out := queryRecord[K, E]{Meta: result.Meta, Entities: make([]Record[K, E], len(result.Entities))}
	for i, e := range result.Entities {
		out.Entities[i] = Record[K, E]{Entity: e}
		if key, ok := extract(e); ok {
			out.Entities[i].Key = &key
		}
	}
	return out
}
