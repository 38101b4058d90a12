package model

// Role represents the role of a message sender.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// InlineImage is an image payload carried inside a message.
type InlineImage struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Message is one entry of a conversation history.
type Message struct {
	Role  Role         `json:"role"`
	Text  string       `json:"text"`
	Image *InlineImage `json:"image,omitempty"`
}

// NewText returns a text-only message.
func NewText(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// Clone returns a deep copy of the history slice.
func Clone(history []Message) []Message {
	if history == nil {
		return nil
	}
	out := make([]Message, len(history))
	copy(out, history)
	for i := range out {
		if img := out[i].Image; img != nil {
			data := make([]byte, len(img.Data))
			copy(data, img.Data)
			out[i].Image = &InlineImage{MimeType: img.MimeType, Data: data}
		}
	}
	return out
}
