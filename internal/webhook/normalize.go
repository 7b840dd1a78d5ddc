package webhook

import (
	"fmt"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// Normalized is the canonical form of an inbound message: plain content plus
// a message type drawn from the closed model.MessageType set.
type Normalized struct {
	Content string
	Type    model.MessageType
}

// Normalize converts a provider-shaped message into its canonical form. It is
// pure and total: every well-formed payload maps to non-empty content, and
// unknown shapes degrade to a placeholder rather than an error.
func Normalize(m ProviderMessage) Normalized {
	switch m.Type {
	case "text":
		if m.Text != nil && m.Text.Body != "" {
			return Normalized{Content: m.Text.Body, Type: model.MessageTypeText}
		}
		return Normalized{Content: "[Empty text message]", Type: model.MessageTypeText}

	case "image":
		return mediaContent(m.Image, "Image", model.MessageTypeImage)

	case "document":
		return mediaContent(m.Document, "Document", model.MessageTypeDocument)

	case "audio":
		return mediaContent(m.Audio, "Audio", model.MessageTypeAudio)

	case "button":
		if m.Button != nil && m.Button.Text != "" {
			return Normalized{Content: m.Button.Text, Type: model.MessageTypeText}
		}
		return Normalized{Content: "[Button pressed]", Type: model.MessageTypeText}

	case "interactive":
		if m.Interactive != nil {
			if r := m.Interactive.ButtonReply; r != nil && r.Title != "" {
				return Normalized{Content: r.Title, Type: model.MessageTypeText}
			}
			if r := m.Interactive.ListReply; r != nil && r.Title != "" {
				return Normalized{Content: r.Title, Type: model.MessageTypeText}
			}
		}
		return Normalized{Content: "[Interactive reply]", Type: model.MessageTypeText}

	default:
		kind := m.Type
		if kind == "" {
			kind = "unknown"
		}
		return Normalized{
			Content: fmt.Sprintf("[Unsupported message type: %s]", kind),
			Type:    model.MessageTypeText,
		}
	}
}

func mediaContent(media *Media, label string, typ model.MessageType) Normalized {
	if media != nil && media.Caption != "" {
		return Normalized{Content: media.Caption, Type: typ}
	}
	if media != nil && media.Filename != "" {
		return Normalized{Content: fmt.Sprintf("[%s received: %s]", label, media.Filename), Type: typ}
	}
	return Normalized{Content: fmt.Sprintf("[%s received]", label), Type: typ}
}
