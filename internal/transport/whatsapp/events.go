package whatsapp

import (
	"context"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

// identity holds the account's phone JID and its linked identity, both without device part.
type identity struct {
	phone string
	lid   string
}

func (s identity) matches(id string) bool {
	if id == "" {
		return false
	}
	u := userOf(id)
	return (s.phone != "" && u == userOf(s.phone)) || (s.lid != "" && u == userOf(s.lid))
}

// canonical maps the linked identity onto the phone JID.
func (s identity) canonical(id string) string {
	if s.lid != "" && s.phone != "" && userOf(id) == userOf(s.lid) {
		return s.phone
	}
	return id
}

func userOf(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

func (c *Client) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		c.connected.Store(true)
		c.logger.Info("connected", zap.String("self_id", c.SelfID()))
	case *events.Disconnected:
		c.connected.Store(false)
		c.logger.Warn("disconnected")
	case *events.LoggedOut:
		c.connected.Store(false)
		c.logger.Error("logged out, delete the session store and pair again", zap.Stringer("reason", evt.Reason))
	case *events.StreamReplaced:
		c.connected.Store(false)
		c.logger.Warn("session replaced by another client")
	case *events.Message:
		c.handleMessage(evt)
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	c.mu.RLock()
	h, ctx := c.handler, c.ctx
	c.mu.RUnlock()
	if h == nil || evt.Message == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	self := identity{phone: c.SelfID(), lid: c.selfLID()}
	c.resolveSender(ctx, evt)

	if r, ok := toReaction(evt, self); ok {
		h.HandleReaction(ctx, r)
		return
	}

	ev, ok := toEvent(evt, self)
	if !ok {
		return
	}
	if att, ok := mediaOf(evt.Message); ok {
		ev.Media = c.download(ctx, att, ev.ConversationID)
		if ev.Media == nil && ev.Body == "" {
			return
		}
	}
	h.HandleEvent(ctx, ev)
}

// resolveSender rewrites linked-identity senders to their phone JID when known.
func (c *Client) resolveSender(ctx context.Context, evt *events.Message) {
	wa := c.client()
	if wa == nil || wa.Store == nil {
		return
	}
	if evt.Info.Sender.Server == types.HiddenUserServer {
		if alt, err := wa.Store.GetAltJID(ctx, evt.Info.Sender); err == nil && !alt.IsEmpty() {
			evt.Info.Sender = alt
		}
	}
	if evt.Info.Chat.Server == types.HiddenUserServer {
		if alt, err := wa.Store.GetAltJID(ctx, evt.Info.Chat); err == nil && !alt.IsEmpty() {
			evt.Info.Chat = alt
		}
	}
}

func (c *Client) download(ctx context.Context, att attachment, conversationID string) *transport.Media {
	if att.size > maxMediaSize {
		c.logger.Info("skipping oversized media",
			zap.String("conversation_id", conversationID),
			zap.Uint64("size", att.size),
		)
		return nil
	}
	wa := c.client()
	if wa == nil {
		return nil
	}
	data, err := wa.Download(ctx, att.msg)
	if err != nil {
		c.logger.Warn("failed to download media", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return &transport.Media{MimeType: att.mime, Data: data}
}

func toReaction(evt *events.Message, self identity) (transport.Reaction, bool) {
	rm := evt.Message.GetReactionMessage()
	if rm == nil {
		return transport.Reaction{}, false
	}
	sender := self.canonical(evt.Info.Sender.ToNonAD().String())
	if evt.Info.IsFromMe || self.matches(sender) {
		return transport.Reaction{}, false
	}
	return transport.Reaction{
		ConversationID: evt.Info.Chat.ToNonAD().String(),
		SenderID:       sender,
		SenderName:     evt.Info.PushName,
		MessageID:      rm.GetKey().GetID(),
		Emoji:          rm.GetText(),
	}, true
}

// toEvent maps a text or media message. Protocol and system messages report false.
func toEvent(evt *events.Message, self identity) (transport.Event, bool) {
	msg := evt.Message
	body := extractText(msg)
	if _, hasMedia := mediaOf(msg); body == "" && !hasMedia {
		return transport.Event{}, false
	}

	ev := transport.Event{
		ID:             string(evt.Info.ID),
		ConversationID: evt.Info.Chat.ToNonAD().String(),
		SenderID:       self.canonical(evt.Info.Sender.ToNonAD().String()),
		SenderName:     evt.Info.PushName,
		Body:           body,
		IsGroup:        evt.Info.IsGroup,
		FromSelf:       evt.Info.IsFromMe,
		Timestamp:      evt.Info.Timestamp,
	}

	if ci := contextInfo(msg); ci != nil {
		for _, m := range ci.GetMentionedJID() {
			ev.MentionedIDs = append(ev.MentionedIDs, self.canonical(m))
		}
		if ci.GetStanzaID() != "" {
			participant := self.canonical(ci.GetParticipant())
			ev.Quoted = &transport.Quoted{
				ID:       ci.GetStanzaID(),
				SenderID: participant,
				Body:     extractText(ci.GetQuotedMessage()),
				FromSelf: self.matches(participant),
			}
		}
	}
	return ev, true
}

// extractText returns the text or caption of msg.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage().GetCaption() != "":
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage().GetCaption() != "":
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage().GetCaption() != "":
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	}
	return nil
}

type attachment struct {
	msg  whatsmeow.DownloadableMessage
	mime string
	size uint64
}

// mediaOf returns the downloadable part of msg.
func mediaOf(msg *waE2E.Message) (attachment, bool) {
	switch {
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		return attachment{m, mimeOr(m.GetMimetype(), "image/jpeg"), m.GetFileLength()}, true
	case msg.GetAudioMessage() != nil:
		m := msg.GetAudioMessage()
		return attachment{m, mimeOr(m.GetMimetype(), "audio/ogg"), m.GetFileLength()}, true
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		return attachment{m, mimeOr(m.GetMimetype(), "application/octet-stream"), m.GetFileLength()}, true
	}
	return attachment{}, false
}

func mimeOr(mime, def string) string {
	// Voice notes carry codec parameters ("audio/ogg; codecs=opus").
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime = strings.TrimSpace(mime); mime == "" {
		return def
	}
	return mime
}
