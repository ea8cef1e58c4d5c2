package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// setting is one leaf of the config tree, addressed by a dot path built
// from the yaml keys, e.g. "backend.baseURL" or "channels.telegram.allowFrom".
// Fields tagged `secret:"true"` are masked by Sanitize.
type setting struct {
	path   string
	value  reflect.Value
	secret bool
}

// settings walks cfg and returns its leaves in declaration order.
func settings(cfg *Config) []setting {
	var out []setting
	walk("", reflect.ValueOf(cfg).Elem(), &out)
	return out
}

func walk(prefix string, v reflect.Value, out *[]setting) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			walk(path, fv, out)
			continue
		}
		*out = append(*out, setting{path: path, value: fv, secret: f.Tag.Get("secret") == "true"})
	}
}

func lookup(cfg *Config, path string) (setting, error) {
	for _, s := range settings(cfg) {
		if s.path == path {
			return s, nil
		}
	}
	return setting{}, fmt.Errorf("unknown config key %q (see 'papernav config list')", path)
}

// GetByPath returns the value at path.
func GetByPath(cfg *Config, path string) (any, error) {
	s, err := lookup(cfg, path)
	if err != nil {
		return nil, err
	}
	return s.value.Interface(), nil
}

// SetByPath parses value for the type of the setting at path and stores it.
// Lists take comma-separated values.
func SetByPath(cfg *Config, path, value string) error {
	s, err := lookup(cfg, path)
	if err != nil {
		return err
	}
	v := s.value
	switch v.Kind() {
	case reflect.String:
		v.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected true or false, got %q", path, value)
		}
		v.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", path, value)
		}
		v.SetInt(int64(n))
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		list := reflect.MakeSlice(v.Type(), len(items), len(items))
		for i, item := range items {
			list.Index(i).SetString(item)
		}
		v.Set(list)
	default:
		return fmt.Errorf("%s: cannot set a %s", path, v.Kind())
	}
	return nil
}

// Sanitize returns a copy of the config with secret values masked.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	masked.Channels.Telegram.AllowFrom = append(FlexStringList(nil), cfg.Channels.Telegram.AllowFrom...)
	for _, s := range settings(&masked) {
		if s.secret && s.value.String() != "" {
			s.value.SetString(maskString(s.value.String()))
		}
	}
	return &masked
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable path with its current value.
func ListPaths(cfg *Config) map[string]any {
	result := make(map[string]any)
	for _, s := range settings(cfg) {
		result[s.path] = s.value.Interface()
	}
	return result
}
