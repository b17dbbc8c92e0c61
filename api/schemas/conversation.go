// api/schemas/conversation.go
package schemas

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates the content part variants.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a turn's content. Text parts carry Text;
// image parts carry base64-encoded Data plus a MediaType such as "image/jpeg".
type ContentPart struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	Data      string   `json:"data,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
}

// Turn is a single entry in a conversation history. An assistant turn is
// appended only after the model's response is complete; the observation (or
// continuation nudge) that answers it always follows as a user turn.
type Turn struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// TextPart builds a plain text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an inline base64 image content part.
func ImagePart(b64 string, mediaType string) ContentPart {
	return ContentPart{Type: PartImage, Data: b64, MediaType: mediaType}
}

// TextTurn builds a turn holding a single text part.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []ContentPart{TextPart(text)}}
}
