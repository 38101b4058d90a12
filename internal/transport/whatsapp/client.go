// Package whatsapp connects the assistant to WhatsApp through whatsmeow.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// ErrNotConnected is returned by sends before the session is up.
var ErrNotConnected = errors.New("whatsapp: not connected")

const (
	deviceName   = "Chat Assistant"
	maxMediaSize = 16 << 20
	sendTimeout  = 30 * time.Second
	stickerSize  = 512
)

// Config configures the session store.
type Config struct {
	// DBPath is the sqlite file holding device keys and session state.
	DBPath string
	// QRPath is where the pairing code is written as a PNG. Defaults to
	// pairing-qr.png next to DBPath.
	QRPath string
}

// Client is a whatsmeow-backed transport.Messenger.
type Client struct {
	cfg     Config
	logger  *logger.Logger
	handler transport.Handler

	mu     sync.RWMutex
	wa     *whatsmeow.Client
	ctx    context.Context
	cancel context.CancelFunc

	connected atomic.Bool
}

var _ transport.Messenger = (*Client)(nil)

// New creates a client. Call SetHandler and Connect before use.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.DBPath == "" {
		cfg.DBPath = "data/whatsapp.db"
	}
	if cfg.QRPath == "" {
		cfg.QRPath = filepath.Join(filepath.Dir(cfg.DBPath), "pairing-qr.png")
	}
	return &Client{cfg: cfg, logger: log.Named("whatsapp")}
}

// SetHandler sets the receiver of inbound traffic.
func (c *Client) SetHandler(h transport.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect opens the session store, pairs through a QR code when there is no
// stored session, and connects.
func (c *Client) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	waLogger := newZapLog(c.logger)
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", c.cfg.DBPath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLogger.Sub("store"))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}
	store.SetOSInfo(deviceName, [3]uint32{1, 0, 0})

	wa := whatsmeow.NewClient(device, waLogger.Sub("client"))
	wa.EnableAutoReconnect = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.wa = wa
	c.ctx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	wa.AddEventHandler(c.handleEvent)

	if wa.Store.ID == nil {
		qrChan, err := wa.GetQRChannel(runCtx)
		if err != nil {
			return fmt.Errorf("failed to get qr channel: %w", err)
		}
		if err := wa.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go c.logPairing(qrChan)
		return nil
	}

	if err := wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *Client) logPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.showPairingCode(item.Code, item.Timeout)
		case "success":
			c.logger.Info("device paired")
			os.Remove(c.cfg.QRPath)
		case "timeout":
			c.logger.Warn("qr pairing timed out, restart to retry")
		default:
			if item.Error != nil {
				c.logger.Error("pairing failed", zap.String("event", item.Event), zap.Error(item.Error))
			}
		}
	}
}

func (c *Client) showPairingCode(code string, timeout time.Duration) {
	fields := []zap.Field{zap.String("png", c.cfg.QRPath), zap.Duration("timeout", timeout)}
	if err := qrcode.WriteFile(code, qrcode.Medium, 512, c.cfg.QRPath); err != nil {
		fields = append(fields, zap.String("code", code))
		c.logger.Warn("failed to write pairing qr", zap.Error(err))
	}
	c.logger.Info("scan qr code with WhatsApp > Linked devices to pair", fields...)

	if q, err := qrcode.New(code, qrcode.Low); err == nil {
		fmt.Fprintln(os.Stderr, q.ToSmallString(false))
	}
}

// Disconnect closes the session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.wa != nil {
		c.wa.Disconnect()
	}
	c.connected.Store(false)
}

// IsConnected reports whether the session is logged in and connected.
func (c *Client) IsConnected() bool {
	return c != nil && c.connected.Load()
}

// SelfID returns the paired phone-number JID without device part.
func (c *Client) SelfID() string {
	wa := c.client()
	if wa == nil || wa.Store == nil || wa.Store.ID == nil {
		return ""
	}
	return wa.Store.ID.ToNonAD().String()
}

func (c *Client) selfLID() string {
	wa := c.client()
	if wa == nil || wa.Store == nil || wa.Store.LID.IsEmpty() {
		return ""
	}
	return wa.Store.LID.ToNonAD().String()
}

func (c *Client) client() *whatsmeow.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wa
}

func (c *Client) ready() (*whatsmeow.Client, error) {
	wa := c.client()
	if wa == nil || !c.connected.Load() {
		return nil, ErrNotConnected
	}
	return wa, nil
}

// Send posts text to a conversation, tagging mentions.
func (c *Client) Send(ctx context.Context, conversationID, text string, mentions []string) error {
	wa, err := c.ready()
	if err != nil {
		return err
	}
	to, err := parseJID(conversationID)
	if err != nil {
		return err
	}
	return c.send(ctx, wa, to, textMessage(text, nil, mentions))
}

// Reply quotes ref and answers with text.
func (c *Client) Reply(ctx context.Context, ref transport.MessageRef, text string) error {
	wa, err := c.ready()
	if err != nil {
		return err
	}
	to, err := parseJID(ref.ConversationID)
	if err != nil {
		return err
	}
	return c.send(ctx, wa, to, textMessage(text, quoteContext(ref), nil))
}

// ReplyMedia uploads the image at path and sends it quoting ref.
func (c *Client) ReplyMedia(ctx context.Context, ref transport.MessageRef, path, caption string) error {
	wa, err := c.ready()
	if err != nil {
		return err
	}
	to, err := parseJID(ref.ConversationID)
	if err != nil {
		return err
	}

	data, up, err := uploadFile(ctx, wa, path)
	if err != nil {
		return err
	}

	msg := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(http.DetectContentType(data)),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   quoteContext(ref),
		},
	}
	return c.send(ctx, wa, to, msg)
}

// ReplySticker uploads the WebP file at path and sends it as a sticker quoting ref.
func (c *Client) ReplySticker(ctx context.Context, ref transport.MessageRef, path string) error {
	wa, err := c.ready()
	if err != nil {
		return err
	}
	to, err := parseJID(ref.ConversationID)
	if err != nil {
		return err
	}

	_, up, err := uploadFile(ctx, wa, path)
	if err != nil {
		return err
	}

	msg := &waE2E.Message{
		StickerMessage: &waE2E.StickerMessage{
			Mimetype:      proto.String("image/webp"),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Width:         proto.Uint32(stickerSize),
			Height:        proto.Uint32(stickerSize),
			ContextInfo:   quoteContext(ref),
		},
	}
	return c.send(ctx, wa, to, msg)
}

// GroupParticipants returns the member JIDs of a group, without device part.
func (c *Client) GroupParticipants(ctx context.Context, conversationID string) ([]string, error) {
	jid, err := parseJID(conversationID)
	if err != nil {
		return nil, err
	}
	if jid.Server != types.GroupServer {
		return nil, transport.ErrNotGroup
	}
	wa, err := c.ready()
	if err != nil {
		return nil, err
	}

	info, err := wa.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to get group info for %s: %w", jid, err)
	}
	members := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		members = append(members, p.JID.ToNonAD().String())
	}
	return members, nil
}

func uploadFile(ctx context.Context, wa *whatsmeow.Client, path string) ([]byte, whatsmeow.UploadResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, whatsmeow.UploadResponse{}, fmt.Errorf("failed to read media: %w", err)
	}
	up, err := wa.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, whatsmeow.UploadResponse{}, fmt.Errorf("failed to upload media: %w", err)
	}
	return data, up, nil
}

// React puts emoji on the referenced message.
func (c *Client) React(ctx context.Context, ref transport.MessageRef, emoji string) error {
	wa, err := c.ready()
	if err != nil {
		return err
	}
	chat, err := parseJID(ref.ConversationID)
	if err != nil {
		return err
	}
	sender, err := parseJID(ref.SenderID)
	if err != nil {
		return err
	}
	return c.send(ctx, wa, chat, wa.BuildReaction(chat, sender, types.MessageID(ref.MessageID), emoji))
}

// SetTyping toggles the composing indicator.
func (c *Client) SetTyping(ctx context.Context, conversationID string, typing bool) error {
	wa, err := c.ready()
	if err != nil {
		return err
	}
	to, err := parseJID(conversationID)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return wa.SendChatPresence(ctx, to, state, types.ChatPresenceMediaText)
}

func (c *Client) send(ctx context.Context, wa *whatsmeow.Client, to types.JID, msg *waE2E.Message) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := wa.SendMessage(ctx, to, msg); err != nil {
		return fmt.Errorf("failed to send to %s: %w", to, err)
	}
	return nil
}

// parseJID accepts a full JID or a bare phone number.
func parseJID(id string) (types.JID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.JID{}, errors.New("whatsapp: empty jid")
	}
	if !strings.Contains(id, "@") {
		return types.NewJID(strings.TrimPrefix(id, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.JID{}, fmt.Errorf("whatsapp: invalid jid %q: %w", id, err)
	}
	return jid, nil
}

func quoteContext(ref transport.MessageRef) *waE2E.ContextInfo {
	if ref.MessageID == "" {
		return nil
	}
	info := &waE2E.ContextInfo{
		StanzaID:      proto.String(ref.MessageID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(ref.Body)},
	}
	if ref.SenderID != "" {
		info.Participant = proto.String(ref.SenderID)
	}
	return info
}

func textMessage(text string, quote *waE2E.ContextInfo, mentions []string) *waE2E.Message {
	if quote == nil && len(mentions) == 0 {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	info := quote
	if info == nil {
		info = &waE2E.ContextInfo{}
	}
	for _, m := range mentions {
		if jid, err := parseJID(m); err == nil {
			info.MentionedJID = append(info.MentionedJID, jid.String())
		}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: info,
		},
	}
}
