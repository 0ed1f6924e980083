package repositorycache

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-datastore-cache/cache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/jinzhu/inflection"
	"github.com/uptrace/bun"
)

// Read methods served through the query cache.
const (
	MethodGet             = "Get"
	MethodGetByID         = "GetByID"
	MethodGetByIdentifier = "GetByIdentifier"
	MethodList            = "List"
	MethodCount           = "Count"
)

// Query is a repository read. Method and the arguments make up its cache
// key, Kinds names extra entity categories its result depends on. Key, when
// set, stands in for whatever the criteria capture.
type Query struct {
	Method     string
	ID         string
	Identifier string
	Criteria   []repository.SelectCriteria
	Kinds      []string
	Key        string
}

// Adapter exposes a repository.Repository[T] as a cache datastore. Keys are
// record IDs, queries are repository reads.
type Adapter[T any] struct {
	base       repository.Repository[T]
	kind       string
	serializer cache.KeySerializer

	// wrapped is set by WrapClient. GetEntity and RunQuery are then served
	// through the cache.
	wrapped *cache.Cache[string, Query, T]
}

var (
	_ cache.Adapter[string, Query, any]          = (*Adapter[any])(nil)
	_ cache.KeyExtractor[string, any]            = (*Adapter[any])(nil)
	_ cache.UnwrappedFetcher[string, Query, any] = (*Adapter[any])(nil)
	_ cache.ClientWrapper[string, Query, any]    = (*Adapter[any])(nil)
)

// AdapterOption configures an Adapter.
type AdapterOption func(*adapterOptions)

type adapterOptions struct {
	kind       string
	serializer cache.KeySerializer
}

// WithKind sets the entity category of the repository records.
// Default: the pluralized snake case name of T, "users" for User.
func WithKind(kind string) AdapterOption {
	return func(o *adapterOptions) {
		if kind != "" {
			o.kind = kind
		}
	}
}

// WithKeySerializer replaces the serializer used for query keys.
func WithKeySerializer(s cache.KeySerializer) AdapterOption {
	return func(o *adapterOptions) {
		if s != nil {
			o.serializer = s
		}
	}
}

// NewAdapter wraps base.
func NewAdapter[T any](base repository.Repository[T], opts ...AdapterOption) *Adapter[T] {
	o := adapterOptions{
		kind:       KindOf[T](),
		serializer: cache.NewDefaultKeySerializer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Adapter[T]{base: base, kind: o.kind, serializer: o.serializer}
}

// KindOf returns the default entity category for T.
func KindOf[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := toSnake(t.Name())
	if name == "" {
		name = toSnake(t.String())
	}
	return inflection.Plural(name)
}

// Kind returns the entity category of the records.
func (a *Adapter[T]) Kind() string { return a.kind }

// KeyToString namespaces the ID with the kind.
func (a *Adapter[T]) KeyToString(id string) string {
	return a.kind + cache.KeySeparator + id
}

// QueryToString serializes the method, its arguments, criteria and key.
func (a *Adapter[T]) QueryToString(q Query) string {
	args := []any{}
	if q.ID != "" {
		args = append(args, q.ID)
	}
	if q.Identifier != "" {
		args = append(args, q.Identifier)
	}
	if len(q.Criteria) > 0 {
		args = append(args, q.Criteria)
	}
	if q.Key != "" {
		args = append(args, "key="+q.Key)
	}
	return a.serializer.SerializeKey(a.kind+"."+q.Method, args...)
}

// GetEntityKindFromQuery returns the repository kind and the query tags.
func (a *Adapter[T]) GetEntityKindFromQuery(q Query) []string {
	return dedupeStrings(append([]string{a.kind}, q.Kinds...))
}

// GetKeyFromEntity reads the ID field of a record.
func (a *Adapter[T]) GetKeyFromEntity(record T) (string, bool) {
	id, err := extractID(record)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// WrapClient routes GetEntity and RunQuery through c.
func (a *Adapter[T]) WrapClient(c *cache.Cache[string, Query, T]) {
	a.wrapped = c
}

// Wrapped reports whether the adapter reads through a cache.
func (a *Adapter[T]) Wrapped() bool { return a.wrapped != nil }

// GetEntity loads records by ID, through the cache once wrapped.
func (a *Adapter[T]) GetEntity(ctx context.Context, ids []string) ([]T, error) {
	if a.wrapped != nil {
		return a.wrapped.Keys().Read(ctx, ids, nil)
	}
	return a.GetEntityUnwrapped(ctx, ids)
}

// RunQuery runs a read, through the cache once wrapped.
func (a *Adapter[T]) RunQuery(ctx context.Context, q Query) (cache.QueryResult[T], error) {
	if a.wrapped != nil {
		return a.wrapped.Queries().Read(ctx, q, nil)
	}
	return a.RunQueryUnwrapped(ctx, q)
}

// GetEntityUnwrapped loads records by ID from the repository. A single
// missing ID is reported as cache.ErrEntityNotFound.
func (a *Adapter[T]) GetEntityUnwrapped(ctx context.Context, ids []string) ([]T, error) {
	switch len(ids) {
	case 0:
		return nil, nil
	case 1:
		record, err := a.base.GetByID(ctx, ids[0])
		if err != nil {
			return nil, notFound(err)
		}
		return []T{record}, nil
	}

	records, _, err := a.base.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id IN (?)", bun.In(ids))
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RunQueryUnwrapped runs a read against the repository. Single record reads
// carry one entity, Count only Meta.Total.
func (a *Adapter[T]) RunQueryUnwrapped(ctx context.Context, q Query) (cache.QueryResult[T], error) {
	var (
		record T
		err    error
	)

	switch q.Method {
	case MethodList:
		records, total, err := a.base.List(ctx, q.Criteria...)
		if err != nil {
			return cache.QueryResult[T]{}, err
		}
		return cache.QueryResult[T]{Entities: records, Meta: cache.QueryMeta{Total: total}}, nil
	case MethodCount:
		total, err := a.base.Count(ctx, q.Criteria...)
		if err != nil {
			return cache.QueryResult[T]{}, err
		}
		return cache.QueryResult[T]{Entities: []T{}, Meta: cache.QueryMeta{Total: total}}, nil
	case MethodGet:
		record, err = a.base.Get(ctx, q.Criteria...)
	case MethodGetByID:
		record, err = a.base.GetByID(ctx, q.ID, q.Criteria...)
	case MethodGetByIdentifier:
		record, err = a.base.GetByIdentifier(ctx, q.Identifier, q.Criteria...)
	default:
		return cache.QueryResult[T]{}, errors.Newf("repositorycache: unsupported query method %q", q.Method)
	}

	if err != nil {
		return cache.QueryResult[T]{}, err
	}
	return cache.QueryResult[T]{Entities: []T{record}, Meta: cache.QueryMeta{Total: 1}}, nil
}

// notFound marks sql.ErrNoRows as the cache not-found signal, keeping the
// original error.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(err, cache.ErrEntityNotFound)
	}
	return err
}

// extractID reads the ID field of a record.
func extractID(record any) (string, error) {
	return extractField(record, "ID", "Id")
}

func extractField(record any, names ...string) (string, error) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", errors.New("repositorycache: nil record")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", errors.Newf("repositorycache: %s is not a struct", v.Kind())
	}

	for _, name := range names {
		field := v.FieldByName(name)
		if field.IsValid() && field.CanInterface() {
			return fmt.Sprint(field.Interface()), nil
		}
	}
	return "", errors.Newf("repositorycache: no %v field in %s", names, v.Type())
}
