package output

import (
	"regexp"
	"strings"
)

// Metadata is the header block of a saved vignette.
type Metadata struct {
	Theme        string
	Generated    string
	PartyMembers string
	Model        string
	UserPrompt   string
	BasedOn      string
}

const vignetteHeading = "## Vignette"

var metaLine = regexp.MustCompile(`(?m)^- \*\*([^*]+):\*\*[ \t]*(.*)$`)

// ParseMetadata reads the "- **Key:** value" lines of a vignette file's
// header. Lines in the story body are not metadata. Unknown keys are ignored.
func ParseMetadata(content string) Metadata {
	header := content
	if i := strings.Index(content, vignetteHeading); i >= 0 {
		header = content[:i]
	}
	var m Metadata
	for _, match := range metaLine.FindAllStringSubmatch(header, -1) {
		val := strings.TrimSpace(match[2])
		switch match[1] {
		case "Theme":
			m.Theme = val
		case "Generated":
			m.Generated = val
		case "Party Members":
			m.PartyMembers = val
		case "LLM Model":
			m.Model = val
		case "User Prompt":
			m.UserPrompt = strings.Trim(val, `"`)
		case "Based on":
			m.BasedOn = val
		}
	}
	return m
}

// Body returns the text after the "## Vignette" heading, or the whole
// content when there is no such heading.
func Body(content string) string {
	if i := strings.Index(content, vignetteHeading); i >= 0 {
		return strings.TrimSpace(content[i+len(vignetteHeading):])
	}
	return strings.TrimSpace(content)
}
