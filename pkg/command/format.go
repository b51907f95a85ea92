package command

import (
	"fmt"
	"strings"
)

// Args are the values substituted into a message template.
type Args map[string]any

// Format replaces every {key} in tmpl with the matching value of args.
// Unknown placeholders are left as they are.
func Format(tmpl string, args Args) string {
	if len(args) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(args))
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
