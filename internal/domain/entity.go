// Package domain declares the typed entity model persisted by the
// Document Store Adapter: Request, Action, Machine, DeployTicket,
// HostRuntimeInfo, Snapshot, and Screenshot, plus their state-enum
// helpers. The original source resolves attribute sets through runtime
// reflection over class-level type descriptors; here the metadata lives
// as explicit Go struct tags read once and cached, with the types
// themselves carrying the field declarations directly.
package domain

import (
	"reflect"
	"sync"
	"time"
)

// Entity is implemented by every type the Document Store Adapter
// persists. DocumentType names the `type` column value; GetID/SetID let
// the store round-trip the primary `id` column through a concrete value.
type Entity interface {
	DocumentType() string
	GetID() int64
	SetID(id int64)
}

const redactedTruncateLen = 64

// fieldMeta caches the reflected shape of an entity type: which struct
// fields are tagged `redact:"hidden"` (never serialized unless
// show_hidden is requested) and which are tagged `redact:"truncate"`
// (long strings shortened when redacted is requested).
type fieldMeta struct {
	jsonName string
	hidden   bool
	truncate bool
}

var metaCache sync.Map // reflect.Type -> []fieldMeta

func metaFor(t reflect.Type) []fieldMeta {
	if cached, ok := metaCache.Load(t); ok {
		return cached.([]fieldMeta)
	}
	metas := make([]fieldMeta, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("redact")
		metas = append(metas, fieldMeta{
			jsonName: jsonFieldName(f),
			hidden:   tag == "hidden",
			truncate: tag == "truncate",
		})
	}
	metaCache.Store(t, metas)
	return metas
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	for i, c := range tag {
		if c == ',' {
			return tag[:i]
		}
	}
	return tag
}

// ToDict projects an entity onto a plain map the way the HTTP layer and
// logging emit it: long strings truncated when redacted is true;
// hidden-tagged fields omitted unless showHidden is true.
func ToDict(e Entity, redacted, showHidden bool) map[string]any {
	v := reflect.ValueOf(e)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()
	metas := metaFor(t)

	out := make(map[string]any, len(metas)+1)
	out["id"] = e.GetID()
	for i, m := range metas {
		if m.hidden && !showHidden {
			continue
		}
		fv := v.Field(i).Interface()
		if redacted && m.truncate {
			if s, ok := fv.(string); ok && len(s) > redactedTruncateLen {
				fv = s[:redactedTruncateLen] + "..."
			}
		}
		out[m.jsonName] = fv
	}
	return out
}

// Touch returns now unchanged, as the value for an entity's ModifiedAt.
// It sets no field itself: Go has no structural field access by name
// without reflection, so the typed store repositories stamp ModifiedAt
// in their Save methods instead.
func Touch(now time.Time) time.Time { return now }
