package binder

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// bindFields walks the exported fields of the struct behind v and assigns the
// values returned by lookup for the tag name. Fields without the tag are left
// untouched.
func bindFields(v any, tag string, lookup func(string) []string, sentinel error) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer", sentinel)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("%w: target must point to a struct", sentinel)
	}

	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, ok := tagName(sf, tag)
		if !ok {
			continue
		}
		values := lookup(name)
		if len(values) == 0 {
			continue
		}
		if err := setField(rv.Field(i), values); err != nil {
			return fmt.Errorf("%w: %s: %v", sentinel, name, err)
		}
	}
	return nil
}

func tagName(sf reflect.StructField, tag string) (string, bool) {
	raw, ok := sf.Tag.Lookup(tag)
	if !ok || raw == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(raw, ",")
	if name == "" {
		name = sf.Name
	}
	return name, true
}

func setField(field reflect.Value, values []string) error {
	switch field.Kind() {
	case reflect.Pointer:
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), values); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	case reflect.Slice:
		var parts []string
		for _, v := range values {
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := setScalar(slice.Index(i), p); err != nil {
				return err
			}
		}
		field.Set(slice)
		return nil
	default:
		return setScalar(field, values[0])
	}
}

func setScalar(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", s)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", s)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
