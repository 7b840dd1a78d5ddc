package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

func TestNormalizeText(t *testing.T) {
	n := Normalize(ProviderMessage{Type: "text", Text: &TextBody{Body: "hello there"}})
	assert.Equal(t, "hello there", n.Content)
	assert.Equal(t, model.MessageTypeText, n.Type)

	n = Normalize(ProviderMessage{Type: "text"})
	assert.Equal(t, "[Empty text message]", n.Content)
}

func TestNormalizeMedia(t *testing.T) {
	n := Normalize(ProviderMessage{Type: "image", Image: &Media{Caption: "our storefront"}})
	assert.Equal(t, "our storefront", n.Content)
	assert.Equal(t, model.MessageTypeImage, n.Type)

	n = Normalize(ProviderMessage{Type: "image", Image: &Media{ID: "media-1"}})
	assert.Equal(t, "[Image received]", n.Content)

	n = Normalize(ProviderMessage{Type: "document", Document: &Media{Filename: "invoice.pdf"}})
	assert.Equal(t, "[Document received: invoice.pdf]", n.Content)
	assert.Equal(t, model.MessageTypeDocument, n.Type)

	n = Normalize(ProviderMessage{Type: "audio", Audio: &Media{}})
	assert.Equal(t, "[Audio received]", n.Content)
	assert.Equal(t, model.MessageTypeAudio, n.Type)
}

func TestNormalizeInteractive(t *testing.T) {
	n := Normalize(ProviderMessage{Type: "button", Button: &Button{Text: "Order status"}})
	assert.Equal(t, "Order status", n.Content)

	n = Normalize(ProviderMessage{
		Type:        "interactive",
		Interactive: &Interactive{ButtonReply: &Reply{Title: "Yes please"}},
	})
	assert.Equal(t, "Yes please", n.Content)

	n = Normalize(ProviderMessage{
		Type:        "interactive",
		Interactive: &Interactive{ListReply: &Reply{Title: "Option B"}},
	})
	assert.Equal(t, "Option B", n.Content)

	n = Normalize(ProviderMessage{Type: "interactive"})
	assert.Equal(t, "[Interactive reply]", n.Content)
}

func TestNormalizeUnknownType(t *testing.T) {
	n := Normalize(ProviderMessage{Type: "sticker"})
	assert.Equal(t, "[Unsupported message type: sticker]", n.Content)
	assert.Equal(t, model.MessageTypeText, n.Type)

	n = Normalize(ProviderMessage{})
	assert.Equal(t, "[Unsupported message type: unknown]", n.Content)
}

// Every shape must produce non-empty content; downstream prompt assembly and
// persistence assume it.
func TestNormalizeNeverEmpty(t *testing.T) {
	shapes := []ProviderMessage{
		{Type: "text"},
		{Type: "text", Text: &TextBody{}},
		{Type: "image"},
		{Type: "document"},
		{Type: "audio"},
		{Type: "button"},
		{Type: "interactive"},
		{Type: "interactive", Interactive: &Interactive{ButtonReply: &Reply{}}},
		{Type: "reaction"},
		{},
	}
	for _, m := range shapes {
		assert.NotEmpty(t, Normalize(m).Content, "type %q", m.Type)
	}
}
