package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	gmail "google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func part(mimeType, data string, children ...*gmail.MessagePart) *gmail.MessagePart {
	p := &gmail.MessagePart{MimeType: mimeType, Parts: children}
	if data != "" {
		p.Body = &gmail.MessagePartBody{Data: b64(data)}
	}
	return p
}

func TestExtractBodyPrefersPlainText(t *testing.T) {
	payload := part("multipart/alternative", "",
		part("text/html", "<p>html</p>"),
		part("text/plain", "plain"),
	)

	assert.Equal(t, "plain", ExtractBody(payload))
}

func TestExtractBodyFallsBackToHTML(t *testing.T) {
	payload := part("multipart/alternative", "",
		part("text/html", "<p>html</p>"),
		part("application/pdf", "binary"),
	)

	assert.Equal(t, "<p>html</p>", ExtractBody(payload))
}

func TestExtractBodyNestedParts(t *testing.T) {
	payload := part("multipart/mixed", "",
		part("multipart/alternative", "",
			part("text/plain", "nested plain"),
		),
		part("application/pdf", "attachment"),
	)

	assert.Equal(t, "nested plain", ExtractBody(payload))
}

func TestExtractBodySinglePart(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: b64("single part body")},
	}

	assert.Equal(t, "single part body", ExtractBody(payload))
}

func TestExtractBodyEmpty(t *testing.T) {
	assert.Empty(t, ExtractBody(nil))
	assert.Empty(t, ExtractBody(&gmail.MessagePart{MimeType: "text/plain"}))
}

func TestDecodePartDataPaddedAndUnpadded(t *testing.T) {
	assert.Equal(t, "hello", decodePartData(base64.RawURLEncoding.EncodeToString([]byte("hello"))))
	assert.Equal(t, "hello", decodePartData(base64.URLEncoding.EncodeToString([]byte("hello"))))
	assert.Empty(t, decodePartData("!!not base64!!"))
}
