package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/chat-assistant/internal/model"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "chat.628123@s_whatsapp_net.msg.user", MessageSubject("628123@s.whatsapp.net", model.RoleUser))
	assert.Equal(t, "chat.120363@g_us.event.rate_limited", EventSubject("120363@g.us", model.EventTypeRateLimit))
	assert.Equal(t, "chat.120363@g_us.msg.>", ConversationFilter("120363@g.us"))
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"":          "_",
		"plain":     "plain",
		"a.b*c>d e": "a_b_c_d_e",
	}
	for in, want := range tests {
		assert.Equal(t, want, SubjectToken(in), in)
	}
}

func TestNilClientIsDisconnected(t *testing.T) {
	var c *Client
	assert.False(t, c.IsConnected())
	assert.False(t, (&Client{}).IsConnected())
}
