// Package tmpl renders notification text from event data.
//
// Templates use text/template syntax with a small helper set. Parsed
// templates are cached by their source text, so a daemon rendering the same
// configured template thousands of times parses it once.
package tmpl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	cacheMu sync.Mutex
	cache   = map[string]*template.Template{}
)

// Funcs is the helper set available to every template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"title":   title,
		"trim":    strings.TrimSpace,
		"replace": func(old, new, s string) string { return strings.ReplaceAll(s, old, new) },
		"join":    join,
		"trunc":   trunc,
		"default": dflt,
		"json":    toJSON,
		"ts":      formatUnix,
		"env":     os.Getenv,
		"oneline": OneLine,
		"shquote": ShellQuote,
	}
}

// Parse compiles (or fetches from cache) a template.
func Parse(name, text string) (*template.Template, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if t, ok := cache[text]; ok {
		return t, nil
	}
	t, err := template.New(name).Funcs(Funcs()).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	cache[text] = t
	return t, nil
}

// Render executes text against data.
func Render(name, text string, data any) (string, error) {
	t, err := Parse(name, text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	// missingkey=zero renders absent map keys as "<no value>".
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Truthy interprets rendered condition templates ("true", "yes", "1").
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true
	default:
		return false
	}
}

// OneLine folds s onto a single line, for line oriented sinks such as the
// monitoring core's command pipe.
func OneLine(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\r", "")), " ")
}

// ShellQuote wraps s in single quotes unless it only has safe characters.
// Templates that end up in a shell command line use it as
// {{ shquote .Summary }}.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./_-", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func title(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func join(sep string, v any) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, sep)
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, sep)
	default:
		return fmt.Sprint(v)
	}
}

// trunc shortens s to n characters, ending in "..." when there is room.
func trunc(n int, s string) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n < 4 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// dflt returns def when v is empty: {{ .SERVICEDESC | default "host" }}.
func dflt(def string, v any) string {
	if v == nil {
		return def
	}
	s := fmt.Sprint(v)
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatUnix(layout string, v any) string {
	var sec int64
	switch x := v.(type) {
	case int64:
		sec = x
	case int:
		sec = int64(x)
	case float64:
		sec = int64(x)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return x
		}
		sec = n
	default:
		return fmt.Sprint(v)
	}
	if layout == "" {
		layout = time.RFC3339
	}
	return time.Unix(sec, 0).UTC().Format(layout)
}
