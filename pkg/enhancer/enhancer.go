// Package enhancer upgrades plain reply text into structured outgoing
// messages: a trailing numbered-option block becomes a selection, markdown
// links become inline URL buttons. Connectors that can't render the
// structure degrade it back to the same text, so enhancement never loses
// content.
package enhancer

import (
	"regexp"
	"strconv"
	"strings"

	"aviary/pkg/api"
)

// Enhancer maps reply text to an outgoing message.
type Enhancer interface {
	Enhance(lead *api.Lead, text string) *api.OutgoingMessage
}

var (
	optionLine   = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.+)$`)
	markdownLink = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^)\s]+)\)`)
)

// Default is the standard detection chain: select, then link, then text.
type Default struct{}

// New returns the default enhancer.
func New() *Default { return &Default{} }

// Enhance implements Enhancer.
func (d *Default) Enhance(lead *api.Lead, text string) *api.OutgoingMessage {
	if msg := detectSelect(lead, text); msg != nil {
		return msg
	}
	if msg := detectLinks(lead, text); msg != nil {
		return msg
	}
	return api.NewOutgoingText(lead, text)
}

// detectSelect recognizes a trailing block of consecutively numbered lines
// ("1. yes\n2. no") and lifts it into a selection. Two options minimum;
// numbering must start at 1 and be contiguous, otherwise the text is more
// likely an ordered list of prose than a menu.
func detectSelect(lead *api.Lead, text string) *api.OutgoingMessage {
	lines := strings.Split(strings.TrimRight(text, "\n "), "\n")

	var options []string
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		m := optionLine.FindStringSubmatch(lines[i])
		if m == nil {
			break
		}
		options = append([]string{strings.TrimSpace(m[2])}, options...)
		start = i
	}
	if len(options) < 2 {
		return nil
	}

	for i := range options {
		m := optionLine.FindStringSubmatch(lines[start+i])
		if n, _ := strconv.Atoi(m[1]); n != i+1 {
			return nil
		}
	}

	content := strings.TrimRight(strings.Join(lines[:start], "\n"), "\n ")
	return api.NewOutgoingSelect(lead, content, options)
}

// detectLinks extracts markdown links and rewrites the text without them.
func detectLinks(lead *api.Lead, text string) *api.OutgoingMessage {
	matches := markdownLink.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	links := make([]api.Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, api.Link{Text: m[1], URL: m[2]})
	}

	content := markdownLink.ReplaceAllString(text, "$1")
	return api.NewOutgoingLink(lead, strings.TrimSpace(content), links)
}
