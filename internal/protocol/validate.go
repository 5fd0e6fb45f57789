package protocol

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
)

// ValidateChatMsg checks that a chat message carries either text or an image
// reference and that the text meets content requirements.
func ValidateChatMsg(m ChatMsg) error {
	if m.Text == "" && m.ImageID == "" {
		return fmt.Errorf("message has neither text nor image")
	}
	if m.Text != "" && m.ImageID != "" {
		return fmt.Errorf("message has both text and image")
	}
	if m.ImageID != "" {
		return nil
	}
	return ValidateText(m.Text)
}

// ValidateText checks that message text meets content requirements.
func ValidateText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
