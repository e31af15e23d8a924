package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("user id", "alice-01"))
	assert.NoError(t, ValidateID("group id", "team_chat"))

	assert.Error(t, ValidateID("user id", ""))
	assert.Error(t, ValidateID("user id", "   "))
	assert.Error(t, ValidateID("user id", "has spaces"))
	assert.Error(t, ValidateID("user id", "semi;colon"))
	assert.Error(t, ValidateID("user id", strings.Repeat("a", 101)))
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.NoError(t, ValidateMessageContent(strings.Repeat("a", MaxMessageLength)))

	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", MaxMessageLength+1)))
	assert.Error(t, ValidateMessageContent("bad\xff\xfe"))
}

func TestValidateFileName(t *testing.T) {
	assert.NoError(t, ValidateFileName(""))
	assert.NoError(t, ValidateFileName("report.pdf"))

	assert.Error(t, ValidateFileName("../etc/passwd"))
	assert.Error(t, ValidateFileName("dir\\file.txt"))
	assert.Error(t, ValidateFileName(strings.Repeat("a", 256)))
}
