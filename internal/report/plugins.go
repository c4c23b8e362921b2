package report

import (
	"fmt"
	"strings"
)

// Plugin is one row of the plugin listing
type Plugin struct {
	Name   string
	Path   string
	Native bool
	User   bool
}

// Plugins formats the discovered plugins as an aligned listing
func Plugins(plugins []Plugin) string {
	if len(plugins) == 0 {
		return mutedStyle.Render("No plugins found") + "\n"
	}

	width := 0
	for _, p := range plugins {
		width = max(width, len(p.Name))
	}

	var sb strings.Builder
	natives := 0

	for _, p := range plugins {
		var tags []string
		if p.Native {
			natives++
			tags = append(tags, warningStyle.Render("native"))
		}

		if p.User {
			tags = append(tags, successStyle.Render("user"))
		}

		line := fmt.Sprintf("%s  %s", targetStyle.Render(fmt.Sprintf("%-*s", width, p.Name)), mutedStyle.Render(p.Path))
		if len(tags) > 0 {
			line += "  " + strings.Join(tags, " ")
		}

		sb.WriteString(line)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("%s, %s", plural(len(plugins), "plugin"), plural(natives, "native module"))))
	sb.WriteString("\n")

	return sb.String()
}
