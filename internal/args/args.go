// Package args parses device argument strings of the form
// "bladerf=0,buffers=256,loopback=none". Keys are case-insensitive,
// values keep their case. Values cannot contain commas.
package args

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Dict holds parsed device arguments.
type Dict map[string]string

// Parse splits a device argument string into a Dict. Empty segments are
// skipped and a bare key maps to the empty string.
func Parse(s string) Dict {
	d := make(Dict)
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key, value, _ := strings.Cut(tok, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		d[key] = strings.TrimSpace(value)
	}
	return d
}

// Has reports whether the key was given, with or without a value.
func (d Dict) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// String returns the key's value, or def when absent.
func (d Dict) String(key, def string) string {
	if v, ok := d[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the key's value as an integer, or def when absent. A
// value that does not parse is an error.
func (d Dict) Int(key string, def int) (int, error) {
	v, ok := d[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("argument %s=%q is not an integer", key, v)
	}
	return n, nil
}

// Uint returns the key's value as an unsigned integer, or def when
// absent.
func (d Dict) Uint(key string, def uint) (uint, error) {
	v, ok := d[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %s=%q is not an unsigned integer", key, v)
	}
	return uint(n), nil
}

// Float returns the key's value as a float, or def when absent.
func (d Dict) Float(key string, def float64) (float64, error) {
	v, ok := d[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %s=%q is not a number", key, v)
	}
	return f, nil
}

// Bool reads the key as a switch. A bare key counts as true; values the
// parser does not recognize fall back to def.
func (d Dict) Bool(key string, def bool) bool {
	v, ok := d[key]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "", "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	}
	return def
}

// Keys lists the parsed keys in sorted order.
func (d Dict) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
