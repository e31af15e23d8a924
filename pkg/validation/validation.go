package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IDRegex validates user, group and call id format
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// MaxMessageLength bounds chat message content.
const MaxMessageLength = 4000

// ValidateID validates an opaque identifier (user id, group id, call id).
func ValidateID(kind, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(id) > 100 {
		return fmt.Errorf("%s is too long (max 100 characters)", kind)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only letters, numbers, _, - allowed)", kind)
	}
	return nil
}

// ValidateMessageContent validates chat message content.
func ValidateMessageContent(content string) error {
	if content == "" {
		return fmt.Errorf("message content is required")
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message content is not valid UTF-8")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return fmt.Errorf("message content is too long (max %d characters)", MaxMessageLength)
	}
	return nil
}

// ValidateFileName validates an attachment file name.
func ValidateFileName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > 255 {
		return fmt.Errorf("file name is too long (max 255 characters)")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("file name must not contain path separators")
	}
	return nil
}
