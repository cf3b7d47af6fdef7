package tmpl

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHelpers(t *testing.T) {
	t.Parallel()
	data := map[string]any{
		"HOSTNAME":     "db01",
		"SERVICESTATE": "critical",
		"OUTPUT":       "disk /var is 98% full and growing",
		"TS":           int64(0),
		"tags":         []string{"db", "prod"},
	}
	tests := []struct {
		name string
		text string
		want string
	}{
		{"upper", `{{ .SERVICESTATE | upper }}`, "CRITICAL"},
		{"default", `{{ .SERVICEDESC | default "host" }}`, "host"},
		{"trunc", `{{ .OUTPUT | trunc 10 }}`, "disk /v..."},
		{"join", `{{ join "," .tags }}`, "db,prod"},
		{"json", `{{ json .HOSTNAME }}`, `"db01"`},
		{"ts", `{{ ts "2006-01-02" .TS }}`, "1970-01-01"},
		{"title", `{{ title "problem_ack" }}`, "Problem Ack"},
		{"missing key", `[{{ .NOPE }}]`, "[]"},
		{"trunc runes", `{{ trunc 6 "Störung ärger" }}`, "Stö..."},
		{"trunc short", `{{ trunc 3 "äöüß" }}`, "äöü"},
		{"title runes", `{{ title "über_ämter" }}`, "Über Ämter"},
		{"shquote", `{{ shquote "can't connect" }}`, `'can'"'"'t connect'`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.name, tt.text, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderParseError(t *testing.T) {
	t.Parallel()
	_, err := Render("broken", "{{ .HOSTNAME ", nil)
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"true", " YES ", "1", "on"} {
		assert.True(t, Truthy(s), s)
	}
	for _, s := range []string{"", "false", "0", "no", "maybe"} {
		assert.False(t, Truthy(s), s)
	}
}

func TestOneLine(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "disk full on /var", OneLine("disk full\n  on\r\n/var "))
}

func TestTruncKeepsUTF8(t *testing.T) {
	t.Parallel()
	for n := 1; n < 14; n++ {
		got := trunc(n, "Störung ärger")
		assert.True(t, utf8.ValidString(got), "trunc %d gave %q", n, got)
	}
}

func TestShellQuote(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "''", ShellQuote(""))
	assert.Equal(t, "host-1.example.com", ShellQuote("host-1.example.com"))
	assert.Equal(t, "'a b'", ShellQuote("a b"))
	assert.Equal(t, `'$(rm -rf /)'`, ShellQuote("$(rm -rf /)"))
}

func TestSplitArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain", `notify-send -u critical`, []string{"notify-send", "-u", "critical"}},
		{"action with spaces", `echo {{ .Summary | upper }} done`, []string{"echo", "{{ .Summary | upper }}", "done"}},
		{"quoted action", `echo 'pre {{ default "x" .A }} post'`, []string{"echo", `pre {{ default "x" .A }} post`}},
		{"glued", `--host={{ .Event.HOSTNAME }}`, []string{"--host={{ .Event.HOSTNAME }}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitArgs(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := SplitArgs(`echo 'unterminated`)
	assert.Error(t, err)
}

func TestRenderArgsKeepsEventTextInPlace(t *testing.T) {
	t.Parallel()
	argv, err := SplitArgs(`/bin/echo '{{ .Summary }}' {{ .Summary }}`)
	require.NoError(t, err)
	got, err := RenderArgs("command", argv, map[string]any{"Summary": "PROBLEM web01/http CRITICAL: can't connect"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/bin/echo",
		"PROBLEM web01/http CRITICAL: can't connect",
		"PROBLEM web01/http CRITICAL: can't connect",
	}, got)
}
