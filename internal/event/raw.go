package event

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"notificationforwarder/internal/omd"
)

// Raw is the flat key/value description of a monitoring notification as it
// arrives on the command line (--eventopt KEY=VALUE) or over HTTP.
type Raw map[string]any

// NewRaw converts string options into a Raw event. Values made of ASCII
// digits only become int64 so templates and deciders can compare numbers.
func NewRaw(opts map[string]string) Raw {
	r := make(Raw, len(opts))
	for k, v := range opts {
		r[k] = coerce(v)
	}
	return r
}

// Normalize applies the same digit coercion to an already decoded map
// (e.g. a JSON body). Non-string values are left alone.
func Normalize(in map[string]any) Raw {
	r := make(Raw, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			r[k] = coerce(s)
			continue
		}
		r[k] = v
	}
	return r
}

func coerce(v string) any {
	if !isDigits(v) {
		return v
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// Too large for int64; keep the text.
		return v
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Enrich stamps origin information onto the event. A caller-supplied
// omd_site is kept.
func Enrich(r Raw, env omd.Env, now time.Time) {
	if _, ok := r["omd_site"]; !ok {
		r["omd_site"] = env.SiteOrUnknown()
	}
	r["omd_originating_host"] = env.Hostname
	r["omd_originating_fqdn"] = env.FQDN
	r["omd_originating_timestamp"] = now.Unix()
}

// Clone returns a shallow copy.
func (r Raw) Clone() Raw {
	out := make(Raw, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value of key as text ("" when missing).
func (r Raw) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value of key as an integer when it is numeric.
func (r Raw) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// First returns the first non-empty value among keys.
func (r Raw) First(keys ...string) string {
	for _, k := range keys {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return ""
}

// Format renders the event deterministically (sorted keys). It is the
// default summary of events a formatter did not describe.
func (r Raw) Format() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, r[k])
	}
	b.WriteByte('}')
	return b.String()
}
