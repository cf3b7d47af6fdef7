package tmpl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

var reAction = regexp.MustCompile(`(?s)\{\{.*?\}\}`)

// Placeholder runes from the private use area; shlex treats them as word
// characters.
const (
	markOpen  = "\uE000"
	markClose = "\uE001"
)

// SplitArgs splits a command template into argv templates the way a shell
// would, keeping every {{ ... }} action inside the word it appears in.
// Each element is then rendered on its own, so event text can neither break
// the quoting nor add arguments.
func SplitArgs(text string) ([]string, error) {
	var actions []string
	masked := reAction.ReplaceAllStringFunc(text, func(a string) string {
		actions = append(actions, a)
		return markOpen + strconv.Itoa(len(actions)-1) + markClose
	})
	words, err := shlex.Split(masked)
	if err != nil {
		return nil, fmt.Errorf("split command: %w", err)
	}
	for i, w := range words {
		if !strings.Contains(w, markOpen) {
			continue
		}
		for j, a := range actions {
			w = strings.ReplaceAll(w, markOpen+strconv.Itoa(j)+markClose, a)
		}
		words[i] = w
	}
	return words, nil
}

// RenderArgs renders every element of argv against data.
func RenderArgs(name string, argv []string, data any) ([]string, error) {
	out := make([]string, len(argv))
	for i, a := range argv {
		s, err := Render(name, a, data)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
