package resource

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// DefaultMaxResultCount is the page size used when none is requested.
	DefaultMaxResultCount = 10
	// AllMaxResultCount is the page size of the "all records" read.
	AllMaxResultCount = 1000
)

// Kind tells list keys from detail keys.
type Kind string

const (
	KindList   Kind = "list"
	KindDetail Kind = "detail"
)

// ListInput holds the filter and pagination of a list read.
// Filter entries are sent as query parameters; the "filter" entry carries
// the free-text search term.
type ListInput struct {
	Filter         map[string]string
	SkipCount      int
	MaxResultCount int
}

// Normalize applies the default page size and drops an empty filter map.
func (in ListInput) Normalize() ListInput {
	if in.MaxResultCount == 0 {
		in.MaxResultCount = DefaultMaxResultCount
	}
	if len(in.Filter) == 0 {
		in.Filter = nil
	}
	return in
}

// Validate checks pagination bounds.
func (in ListInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.SkipCount, validation.Min(0)),
		validation.Field(&in.MaxResultCount, validation.Required, validation.Min(1)),
	)
}

// Values encodes the input as list endpoint query parameters.
func (in ListInput) Values() url.Values {
	in = in.Normalize()
	values := url.Values{}
	for k, v := range in.Filter {
		values.Set(k, v)
	}
	values.Set("skipCount", strconv.Itoa(in.SkipCount))
	values.Set("maxResultCount", strconv.Itoa(in.MaxResultCount))
	return values
}

// Key identifies one cached read: a page of a resource or a single record.
type Key struct {
	Resource       string
	Kind           Kind
	ID             string
	Filter         map[string]string
	SkipCount      int
	MaxResultCount int
}

// ListKey builds the key of a list read with defaults applied.
func ListKey(resource string, in ListInput) Key {
	in = in.Normalize()
	return Key{
		Resource:       resource,
		Kind:           KindList,
		Filter:         copyFilter(in.Filter),
		SkipCount:      in.SkipCount,
		MaxResultCount: in.MaxResultCount,
	}
}

// DetailKey builds the key of a single record read.
func DetailKey(resource, id string) Key {
	return Key{Resource: resource, Kind: KindDetail, ID: id}
}

// Enabled reports whether the key can be fetched. Detail keys without an id
// stay idle.
func (k Key) Enabled() bool {
	return k.Kind != KindDetail || k.ID != ""
}

// Input returns the list input the key was built from.
func (k Key) Input() ListInput {
	return ListInput{Filter: copyFilter(k.Filter), SkipCount: k.SkipCount, MaxResultCount: k.MaxResultCount}
}

// Equal reports whether both keys address the same read. Nil and empty
// filters are equal.
func (k Key) Equal(o Key) bool {
	if k.Resource != o.Resource || k.Kind != o.Kind || k.ID != o.ID ||
		k.SkipCount != o.SkipCount || k.MaxResultCount != o.MaxResultCount ||
		len(k.Filter) != len(o.Filter) {
		return false
	}
	for name, v := range k.Filter {
		if ov, ok := o.Filter[name]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String returns the stable form of the key; equal keys produce equal strings.
func (k Key) String() string {
	if k.Kind == KindDetail {
		return fmt.Sprintf("%s/detail/%s", k.Resource, url.QueryEscape(k.ID))
	}

	filter := url.Values{}
	for name, v := range k.Filter {
		filter.Set(name, v)
	}
	return fmt.Sprintf("%s/list/%d/%d?%s", k.Resource, k.SkipCount, k.MaxResultCount, filter.Encode())
}

// Validate checks the key fields for its kind.
func (k Key) Validate() error {
	return validation.ValidateStruct(&k,
		validation.Field(&k.Resource, validation.Required, validation.Match(namePattern)),
		validation.Field(&k.Kind, validation.Required, validation.In(KindList, KindDetail)),
		validation.Field(&k.SkipCount, validation.Min(0)),
		validation.Field(&k.MaxResultCount, validation.When(k.Kind == KindList, validation.Required, validation.Min(1))),
	)
}

func copyFilter(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Page is one page of a list read, in the PagedResultDto wire shape.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
}

// Empty reports whether the page carries no items.
func (p Page[T]) Empty() bool {
	return len(p.Items) == 0
}

// Total returns the server side record count for the list query.
func (p Page[T]) Total() int {
	return p.TotalCount
}

// Record is a dynamically typed record: raw JSON per field.
type Record map[string]json.RawMessage

// Text returns a scalar field as text, or "" when absent.
func (r Record) Text(field string) string {
	s, _ := scalarString(r[field])
	return s
}

// Decode unmarshals a single field into v.
func (r Record) Decode(field string, v any) error {
	raw, ok := r[field]
	if !ok {
		return fmt.Errorf("resource: record has no field %q", field)
	}
	return json.Unmarshal(raw, v)
}
