package whatsapp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

var self = identity{phone: "6281111@s.whatsapp.net", lid: "99887766@lid"}

func messageEvent(chat, sender types.JID, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    chat,
				Sender:  sender,
				IsGroup: chat.Server == types.GroupServer,
			},
			ID:        "MSG1",
			PushName:  "Alice",
			Timestamp: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
		},
		Message: msg,
	}
}

func TestParseJID(t *testing.T) {
	jid, err := parseJID("+6282222")
	require.NoError(t, err)
	assert.Equal(t, "6282222@s.whatsapp.net", jid.String())

	jid, err = parseJID("120363@g.us")
	require.NoError(t, err)
	assert.Equal(t, types.GroupServer, jid.Server)

	_, err = parseJID("  ")
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	assert.True(t, self.matches("6281111:12@s.whatsapp.net"))
	assert.True(t, self.matches("99887766@lid"))
	assert.False(t, self.matches("6282222@s.whatsapp.net"))
	assert.False(t, self.matches(""))

	assert.Equal(t, self.phone, self.canonical("99887766@lid"))
	assert.Equal(t, "6282222@s.whatsapp.net", self.canonical("6282222@s.whatsapp.net"))
}

func TestExtractText(t *testing.T) {
	assert.Equal(t, "", extractText(nil))
	assert.Equal(t, "hi", extractText(&waE2E.Message{Conversation: proto.String("hi")}))
	assert.Equal(t, "ext", extractText(&waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("ext")},
	}))
	assert.Equal(t, "look", extractText(&waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")},
	}))
}

func TestToEventPrivateText(t *testing.T) {
	alice := types.NewJID("6282222", types.DefaultUserServer)
	ev, ok := toEvent(messageEvent(alice, alice, &waE2E.Message{Conversation: proto.String("hello")}), self)
	require.True(t, ok)

	assert.Equal(t, "MSG1", ev.ID)
	assert.Equal(t, "6282222@s.whatsapp.net", ev.ConversationID)
	assert.Equal(t, "6282222@s.whatsapp.net", ev.SenderID)
	assert.Equal(t, "Alice", ev.SenderName)
	assert.Equal(t, "hello", ev.Body)
	assert.False(t, ev.IsGroup)
	assert.Nil(t, ev.Quoted)
}

func TestToEventGroupMentionAndQuote(t *testing.T) {
	group := types.NewJID("120363", types.GroupServer)
	alice := types.NewJID("6282222", types.DefaultUserServer)
	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("@99887766 what do you think?"),
			ContextInfo: &waE2E.ContextInfo{
				MentionedJID:  []string{"99887766@lid"},
				StanzaID:      proto.String("BOT1"),
				Participant:   proto.String("6281111@s.whatsapp.net"),
				QuotedMessage: &waE2E.Message{Conversation: proto.String("earlier answer")},
			},
		},
	}

	ev, ok := toEvent(messageEvent(group, alice, msg), self)
	require.True(t, ok)

	assert.True(t, ev.IsGroup)
	assert.Equal(t, []string{self.phone}, ev.MentionedIDs)
	require.NotNil(t, ev.Quoted)
	assert.Equal(t, "BOT1", ev.Quoted.ID)
	assert.Equal(t, "earlier answer", ev.Quoted.Body)
	assert.True(t, ev.Quoted.FromSelf)
}

func TestToEventSkipsProtocolMessages(t *testing.T) {
	alice := types.NewJID("6282222", types.DefaultUserServer)
	_, ok := toEvent(messageEvent(alice, alice, &waE2E.Message{}), self)
	assert.False(t, ok)
}

func TestToEventAcceptsCaptionlessMedia(t *testing.T) {
	alice := types.NewJID("6282222", types.DefaultUserServer)
	msg := &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		Mimetype:   proto.String("audio/ogg; codecs=opus"),
		FileLength: proto.Uint64(2048),
	}}

	ev, ok := toEvent(messageEvent(alice, alice, msg), self)
	require.True(t, ok)
	assert.Empty(t, ev.Body)

	att, ok := mediaOf(msg)
	require.True(t, ok)
	assert.Equal(t, "audio/ogg", att.mime)
	assert.Equal(t, uint64(2048), att.size)
}

func TestToReaction(t *testing.T) {
	group := types.NewJID("120363", types.GroupServer)
	alice := types.NewJID("6282222", types.DefaultUserServer)
	msg := &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{
		Key:  &waCommon.MessageKey{ID: proto.String("BOT1")},
		Text: proto.String("👍"),
	}}

	r, ok := toReaction(messageEvent(group, alice, msg), self)
	require.True(t, ok)
	assert.Equal(t, transport.Reaction{
		ConversationID: "120363@g.us",
		SenderID:       "6282222@s.whatsapp.net",
		SenderName:     "Alice",
		MessageID:      "BOT1",
		Emoji:          "👍",
	}, r)

	own := messageEvent(group, types.NewJID("99887766", types.HiddenUserServer), msg)
	_, ok = toReaction(own, self)
	assert.False(t, ok, "own reactions are dropped")
}

func TestTextMessage(t *testing.T) {
	plain := textMessage("hi", nil, nil)
	assert.Equal(t, "hi", plain.GetConversation())
	assert.Nil(t, plain.GetExtendedTextMessage())

	ref := transport.MessageRef{ConversationID: "120363@g.us", MessageID: "M1", SenderID: "6282222@s.whatsapp.net", Body: "question"}
	reply := textMessage("answer", quoteContext(ref), nil)
	ci := reply.GetExtendedTextMessage().GetContextInfo()
	assert.Equal(t, "answer", reply.GetExtendedTextMessage().GetText())
	assert.Equal(t, "M1", ci.GetStanzaID())
	assert.Equal(t, "6282222@s.whatsapp.net", ci.GetParticipant())
	assert.Equal(t, "question", ci.GetQuotedMessage().GetConversation())

	tagged := textMessage("hey @6282222", nil, []string{"6282222"})
	assert.Equal(t, []string{"6282222@s.whatsapp.net"}, tagged.GetExtendedTextMessage().GetContextInfo().GetMentionedJID())

	assert.Nil(t, quoteContext(transport.MessageRef{}))
}

func TestSendRequiresConnection(t *testing.T) {
	log, err := logger.New("error")
	require.NoError(t, err)

	c := New(Config{DBPath: t.TempDir() + "/wa.db"}, log)
	assert.False(t, c.IsConnected())
	assert.Empty(t, c.SelfID())

	ctx := context.Background()
	assert.ErrorIs(t, c.Send(ctx, "6282222", "hi", nil), ErrNotConnected)
	assert.ErrorIs(t, c.Reply(ctx, transport.MessageRef{ConversationID: "6282222"}, "hi"), ErrNotConnected)
	assert.ErrorIs(t, c.SetTyping(ctx, "6282222", true), ErrNotConnected)
	assert.ErrorIs(t, c.ReplySticker(ctx, transport.MessageRef{ConversationID: "6282222"}, "s.webp"), ErrNotConnected)

	_, err = c.GroupParticipants(ctx, "120363@g.us")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.GroupParticipants(ctx, "6282222")
	assert.ErrorIs(t, err, transport.ErrNotGroup)
}

func TestPairingCodeIsWrittenNextToSessionStore(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{DBPath: dir + "/wa.db"}, logger.NewNop())
	require.Equal(t, dir+"/pairing-qr.png", c.cfg.QRPath)

	c.showPairingCode("2@abc,def,ghi", time.Minute)
	data, err := os.ReadFile(c.cfg.QRPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}
