package enhancer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aviary/pkg/api"
)

var lead = api.NewLead("test", api.Peer{ID: "1"})

func TestPlainTextPassesThrough(t *testing.T) {
	msg := New().Enhance(lead, "just a sentence")
	require.Equal(t, api.OutgoingText, msg.Type)
	require.Equal(t, "just a sentence", msg.Content)
}

func TestTrailingNumberedBlockBecomesSelect(t *testing.T) {
	msg := New().Enhance(lead, "Which size do you want?\n1. Small\n2. Medium\n3. Large")
	require.Equal(t, api.OutgoingSelect, msg.Type)
	require.Equal(t, "Which size do you want?", msg.Content)
	require.Equal(t, []string{"Small", "Medium", "Large"}, msg.Options)
}

func TestSingleNumberedLineStaysText(t *testing.T) {
	msg := New().Enhance(lead, "Step:\n1. Do the thing")
	require.Equal(t, api.OutgoingText, msg.Type)
}

func TestNonContiguousNumberingStaysText(t *testing.T) {
	msg := New().Enhance(lead, "Options:\n2. B\n3. C")
	require.Equal(t, api.OutgoingText, msg.Type)
}

func TestParenthesisNumberingIsAccepted(t *testing.T) {
	msg := New().Enhance(lead, "Pick:\n1) yes\n2) no")
	require.Equal(t, api.OutgoingSelect, msg.Type)
	require.Equal(t, []string{"yes", "no"}, msg.Options)
}

func TestMarkdownLinksBecomeLinkMessage(t *testing.T) {
	msg := New().Enhance(lead, "Read the [docs](https://docs.example.com) and the [blog](https://blog.example.com).")
	require.Equal(t, api.OutgoingLink, msg.Type)
	require.Len(t, msg.Links, 2)
	require.Equal(t, "docs", msg.Links[0].Text)
	require.Equal(t, "https://docs.example.com", msg.Links[0].URL)
	require.Equal(t, "Read the docs and the blog.", msg.Content)
}

func TestSelectWinsOverLinks(t *testing.T) {
	msg := New().Enhance(lead, "See [site](https://x.test)\n1. yes\n2. no")
	require.Equal(t, api.OutgoingSelect, msg.Type)
}
