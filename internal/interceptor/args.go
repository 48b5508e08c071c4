package interceptor

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ArgsUnavailable replaces the argument string when no argument could be
// serialized.
const ArgsUnavailable = "argument serialization failed"

// SerializeArgs renders args as {"arg0":...,"arg1":...}. nil arguments are
// skipped, as is any single argument that fails to serialize. Sensitive keys
// in object arguments are masked.
func SerializeArgs(args []any) string {
	if len(args) == 0 {
		return "{}"
	}

	var b strings.Builder
	b.WriteByte('{')
	written, attempted := 0, 0
	for i, arg := range args {
		if isNil(arg) {
			continue
		}
		attempted++
		raw, err := marshal(arg)
		if err != nil {
			continue
		}
		if redacted, ok := redactJSON(raw); ok {
			raw = redacted
		}
		if written > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote("arg" + strconv.Itoa(i)))
		b.WriteByte(':')
		b.Write(raw)
		written++
	}
	if attempted > 0 && written == 0 {
		return ArgsUnavailable
	}
	b.WriteByte('}')
	return b.String()
}

// SerializeResult renders a successful return value; "" if it cannot.
func SerializeResult(result any) string {
	if isNil(result) {
		return ""
	}
	raw, err := marshal(result)
	if err != nil {
		return ""
	}
	if redacted, ok := redactJSON(raw); ok {
		raw = redacted
	}
	return string(raw)
}

// marshal is json.Marshal that also survives panicking MarshalJSON methods.
func marshal(v any) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("marshal panic: %v", r)
		}
	}()
	return json.Marshal(v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func redactJSON(body []byte) ([]byte, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	if !redactValue(&data) {
		return body, true
	}
	out, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

// redactValue masks sensitive keys in place and reports whether it changed anything.
func redactValue(v *any) bool {
	changed := false
	switch raw := (*v).(type) {
	case map[string]any:
		for key, val := range raw {
			if isSensitiveKey(key) {
				raw[key] = "***"
				changed = true
				continue
			}
			vv := val
			if redactValue(&vv) {
				raw[key] = vv
				changed = true
			}
		}
	case []any:
		for i, val := range raw {
			vv := val
			if redactValue(&vv) {
				raw[i] = vv
				changed = true
			}
		}
	}
	return changed
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "password",
		"passwd",
		"token",
		"access_token",
		"refresh_token",
		"api_key",
		"api_secret",
		"secret",
		"authorization":
		return true
	default:
		return false
	}
}
