package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"
)

// IdentityField is the synthetic record-id column prepended to every field list.
const IdentityField = "name"

const identityLabel = "ID (Name)"

// layoutFieldTypes carry no importable data.
var layoutFieldTypes = map[string]bool{
	"Section Break": true,
	"Column Break":  true,
	"Tab Break":     true,
	"HTML":          true,
	"Button":        true,
	"Fold":          true,
	"Heading":       true,
	"Image":         true,
}

const schemaListKey = "\x00schemas"

// SchemaIntrospector reads schema metadata from the backend. Results are
// cached for ttl; the cache holds at most size schemas.
type SchemaIntrospector struct {
	backend Backend
	fields  *expirable.LRU[string, []FieldInfo]
	lists   *expirable.LRU[string, []string]
}

// NewSchemaIntrospector creates an introspector. A ttl of zero disables expiry.
func NewSchemaIntrospector(backend Backend, size int, ttl time.Duration) *SchemaIntrospector {
	if size <= 0 {
		size = 128
	}
	return &SchemaIntrospector{
		backend: backend,
		fields:  expirable.NewLRU[string, []FieldInfo](size, nil, ttl),
		lists:   expirable.NewLRU[string, []string](1, nil, ttl),
	}
}

// ListImportable returns the names of schemas that allow bulk import and
// are not singletons, sorted by name.
func (si *SchemaIntrospector) ListImportable(ctx context.Context) ([]string, error) {
	if names, ok := si.lists.Get(schemaListKey); ok {
		return names, nil
	}

	items, err := si.backend.List(ctx, gateway.ListQuery{
		Doctype: "DocType",
		Fields:  []string{"name"},
		Filters: [][]any{
			{"allow_import", "=", 1},
			{"issingle", "=", 0},
		},
		Limit:   1000,
		OrderBy: "name asc",
	})
	if err != nil {
		return nil, classify(err, "list importable schemas")
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		if name := gjson.GetBytes(item, "name").String(); name != "" {
			names = append(names, name)
		}
	}
	si.lists.Add(schemaListKey, names)
	return names, nil
}

// Fields returns the importable fields of schema with the identity field
// first. The identity field is required only for ModeUpdateExisting.
func (si *SchemaIntrospector) Fields(ctx context.Context, schema string, mode Mode) ([]FieldInfo, error) {
	if schema == "" {
		return nil, errors.Mark(errors.New("schema is required"), ErrValidation)
	}

	base, ok := si.fields.Get(schema)
	if !ok {
		raw, err := si.backend.Get(ctx, "DocType", schema)
		if err != nil {
			return nil, classify(err, "read schema "+schema)
		}
		base, err = parseFields(raw)
		if err != nil {
			return nil, err
		}
		si.fields.Add(schema, base)
		slog.Debug("schema fields loaded", "schema", schema, "fields", len(base))
	}

	out := make([]FieldInfo, 0, len(base)+1)
	out = append(out, FieldInfo{
		Fieldname: IdentityField,
		Label:     identityLabel,
		Fieldtype: "Data",
		Required:  mode == ModeUpdateExisting,
	})
	return append(out, base...), nil
}

func parseFields(raw []byte) ([]FieldInfo, error) {
	res := gjson.ParseBytes(raw)
	list := res.Get("fields")
	if !res.IsObject() || (list.Exists() && !list.IsArray()) {
		return nil, errors.Mark(errors.New("schema record has no field list"), ErrMalformedPayload)
	}

	out := []FieldInfo{}
	for _, f := range list.Array() {
		name := f.Get("fieldname").String()
		fieldtype := f.Get("fieldtype").String()
		if name == "" || name == IdentityField || layoutFieldTypes[fieldtype] {
			continue
		}
		label := f.Get("label").String()
		if label == "" {
			label = name
		}
		out = append(out, FieldInfo{
			Fieldname: name,
			Label:     label,
			Fieldtype: fieldtype,
			Required:  truthy(f.Get("reqd")),
		})
	}
	return out, nil
}
