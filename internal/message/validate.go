// internal/message/validate.go
package message

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate = newValidator()

	requiredMu    sync.RWMutex
	requiredCache = make(map[reflect.Type][]requiredField)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the value constraints of a decoded message
func Validate(m Message) error {
	if err := validate.Struct(m); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s=%s", ErrMalformed, fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// requiredField is a wire field that must be present. elem is set when the
// field holds objects whose own required fields are checked too.
type requiredField struct {
	name string
	elem reflect.Type
	list bool
}

// missingFields lists the wire fields of m that are required but absent from
// present. Fields of subcommand objects are reported as Speeds[0].Speed.
func missingFields(m Message, present map[string]json.RawMessage) []string {
	return missingIn(reflect.TypeOf(m).Elem(), present, "", nil)
}

func missingIn(t reflect.Type, present map[string]json.RawMessage, prefix string, missing []string) []string {
	for _, f := range requiredFields(t) {
		raw, ok := present[f.name]
		if !ok {
			missing = append(missing, prefix+f.name)
			continue
		}
		if f.elem == nil {
			continue
		}
		// Shape errors are left to the decoder
		if f.list {
			var items []map[string]json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				continue
			}
			for i, item := range items {
				missing = missingIn(f.elem, item, fmt.Sprintf("%s%s[%d].", prefix, f.name, i), missing)
			}
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			continue
		}
		missing = missingIn(f.elem, obj, prefix+f.name+".", missing)
	}
	return missing
}

// requiredFields returns every field without omitempty, following embedded
// structs
func requiredFields(t reflect.Type) []requiredField {
	requiredMu.RLock()
	fields, ok := requiredCache[t]
	requiredMu.RUnlock()
	if ok {
		return fields
	}

	fields = collectRequired(t, nil)

	requiredMu.Lock()
	requiredCache[t] = fields
	requiredMu.Unlock()
	return fields
}

func collectRequired(t reflect.Type, fields []requiredField) []requiredField {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if f.Anonymous && tag == "" && f.Type.Kind() == reflect.Struct {
			fields = collectRequired(f.Type, fields)
			continue
		}
		if !f.IsExported() || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		name := parts[0]
		if name == "" {
			name = f.Name
		}
		optional := false
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				optional = true
			}
		}
		if optional {
			continue
		}

		field := requiredField{name: name}
		switch ft := f.Type; {
		case ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct && !implementsUnmarshaler(ft.Elem()):
			field.elem, field.list = ft.Elem(), true
		case ft.Kind() == reflect.Struct && !implementsUnmarshaler(ft):
			field.elem = ft
		}
		fields = append(fields, field)
	}
	return fields
}

var unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()

// implementsUnmarshaler reports whether t decodes itself, in which case its
// wire shape need not match its fields
func implementsUnmarshaler(t reflect.Type) bool {
	return t.Implements(unmarshalerType) || reflect.PointerTo(t).Implements(unmarshalerType)
}
