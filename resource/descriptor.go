package resource

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ApplicationServicePrefix is the route prefix of conventional application services.
const ApplicationServicePrefix = "/api/app/"

var (
	namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)
	pathPattern = regexp.MustCompile(`^/[A-Za-z0-9._~/-]*[A-Za-z0-9._~-]$`)
)

// Descriptor identifies one REST resource and how to read ids from its records.
// A descriptor is defined once per entity type and never changes afterwards.
type Descriptor[T any] struct {
	// Name is the resource name used for cache keys and invalidation.
	Name string
	// BasePath is the collection route. Defaults to /api/app/<kebab-case Name>.
	BasePath string
	// IDField is the JSON field holding the record id. Defaults to "id".
	IDField string
	// IDOf extracts the id from a record. When nil the IDField is read from
	// the record's JSON form.
	IDOf func(T) string
}

// NewDescriptor builds a descriptor with defaults applied and validates it.
func NewDescriptor[T any](name string, opts ...DescriptorOption[T]) (Descriptor[T], error) {
	d := Descriptor[T]{Name: name}
	for _, opt := range opts {
		opt(&d)
	}
	d = d.withDefaults()
	if err := d.Validate(); err != nil {
		return Descriptor[T]{}, err
	}
	return d, nil
}

// MustDescriptor is NewDescriptor for package level declarations.
func MustDescriptor[T any](name string, opts ...DescriptorOption[T]) Descriptor[T] {
	d, err := NewDescriptor[T](name, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// DescriptorOption customizes a descriptor.
type DescriptorOption[T any] func(*Descriptor[T])

// WithBasePath overrides the derived collection route.
func WithBasePath[T any](path string) DescriptorOption[T] {
	return func(d *Descriptor[T]) { d.BasePath = path }
}

// WithIDField sets the JSON field holding the record id.
func WithIDField[T any](field string) DescriptorOption[T] {
	return func(d *Descriptor[T]) { d.IDField = field }
}

// WithIDFunc sets a typed id accessor.
func WithIDFunc[T any](fn func(T) string) DescriptorOption[T] {
	return func(d *Descriptor[T]) { d.IDOf = fn }
}

func (d Descriptor[T]) withDefaults() Descriptor[T] {
	if d.BasePath == "" && d.Name != "" {
		d.BasePath = ApplicationServicePrefix + toKebab(d.Name)
	}
	d.BasePath = strings.TrimSuffix(d.BasePath, "/")
	if d.IDField == "" {
		d.IDField = "id"
	}
	return d
}

// Validate checks the descriptor after defaults are applied.
func (d Descriptor[T]) Validate() error {
	d = d.withDefaults()
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Match(namePattern)),
		validation.Field(&d.BasePath, validation.Required, validation.Match(pathPattern)),
		validation.Field(&d.IDField, validation.Required),
	)
}

// Path returns the collection route.
func (d Descriptor[T]) Path() string {
	return d.withDefaults().BasePath
}

// ItemPath returns the route of a single record.
func (d Descriptor[T]) ItemPath(id string) string {
	return d.Path() + "/" + url.PathEscape(id)
}

// RecordID returns the id carried by rec.
func (d Descriptor[T]) RecordID(rec T) (string, error) {
	if d.IDOf != nil {
		return d.IDOf(rec), nil
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("resource %s: encode record: %w", d.Name, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("resource %s: record is not an object: %w", d.Name, err)
	}

	return scalarString(fields[d.withDefaults().IDField])
}

func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}

	return "", fmt.Errorf("resource: id %s is not a scalar", string(raw))
}
