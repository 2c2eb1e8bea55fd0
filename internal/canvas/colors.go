package canvas

import (
	"regexp"
	"strings"
)

// Accepts #RGB, #RRGGBB, RGB and RRGGBB.
var hexColorRe = regexp.MustCompile(`^#?([0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

func IsValidHexColor(color string) bool {
	return hexColorRe.MatchString(color)
}

// NormalizeHexColor expands shorthand and returns the canonical #RRGGBB
// uppercase form. Callers must validate first.
func NormalizeHexColor(color string) string {
	hex := strings.TrimPrefix(color, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	return "#" + strings.ToUpper(hex)
}
