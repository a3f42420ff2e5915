package wa

import (
	"mime"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

type Media struct {
	Type       string
	Caption    string
	Filename   string
	MimeType   string
	FileLength uint64
	// Source is handed to the client's downloader.
	Source whatsmeow.DownloadableMessage
}

// LinkPreview is the cached preview of a URL in a text message. WhatsApp
// ships the preview image inline.
type LinkPreview struct {
	URL       string
	Title     string
	Thumbnail []byte
}

type ParsedMessage struct {
	Chat      types.JID
	ID        string
	SenderJID string
	Timestamp time.Time
	FromMe    bool
	Text      string
	Media     *Media
	Preview   *LinkPreview
	PushName  string
	ReplyToID string
	// ForwardedFrom is the originating channel of a forwarded message, when
	// WhatsApp tells us.
	ForwardedFrom string
	// Action names the system event of a stub message.
	Action string
	// Skip marks protocol traffic that is not a chat message (reactions,
	// revokes, key distribution).
	Skip bool
}

func ParseLiveMessage(evt *events.Message) ParsedMessage {
	msg := ParsedMessage{
		Chat:      evt.Info.Chat,
		ID:        evt.Info.ID,
		Timestamp: evt.Info.Timestamp.UTC(),
		FromMe:    evt.Info.IsFromMe,
		PushName:  evt.Info.PushName,
	}
	if s := evt.Info.Sender.String(); s != "" {
		msg.SenderJID = s
	}

	extractWAProto(evt.Message, &msg)
	return msg
}

func ParseHistoryMessage(chatJID string, hist *waProto.WebMessageInfo) ParsedMessage {
	var chat types.JID
	if parsed, err := types.ParseJID(chatJID); err == nil {
		chat = parsed
	}

	pm := ParsedMessage{
		Chat:      chat,
		ID:        hist.GetKey().GetID(),
		Timestamp: time.Unix(int64(hist.GetMessageTimestamp()), 0).UTC(),
		FromMe:    hist.GetKey().GetFromMe(),
		PushName:  hist.GetPushName(),
	}

	sender := strings.TrimSpace(hist.GetKey().GetParticipant())
	if sender == "" {
		sender = strings.TrimSpace(hist.GetParticipant())
	}
	if sender == "" && !pm.FromMe {
		sender = strings.TrimSpace(hist.GetKey().GetRemoteJID())
	}
	pm.SenderJID = sender

	if stub := hist.GetMessageStubType(); stub != 0 {
		pm.Action = strings.ToLower(stub.String())
		if params := hist.GetMessageStubParameters(); len(params) > 0 {
			pm.Action += ": " + strings.Join(params, ", ")
		}
	}

	if hist.GetMessage() != nil {
		extractWAProto(hist.GetMessage(), &pm)
	} else if pm.Action == "" {
		pm.Skip = true
	}
	if pm.Action != "" {
		pm.Skip = false
	}
	return pm
}

func extractWAProto(m *waProto.Message, pm *ParsedMessage) {
	m = unwrapMessage(m)
	if m == nil || pm == nil {
		return
	}

	if m.GetReactionMessage() != nil || m.GetEncReactionMessage() != nil || m.GetProtocolMessage() != nil {
		pm.Skip = true
		return
	}

	switch {
	case m.GetConversation() != "":
		pm.Text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		ext := m.GetExtendedTextMessage()
		pm.Text = ext.GetText()
		if url := strings.TrimSpace(ext.GetMatchedText()); url != "" {
			pm.Preview = &LinkPreview{
				URL:       url,
				Title:     ext.GetTitle(),
				Thumbnail: clone(ext.GetJPEGThumbnail()),
			}
		}
	}

	if img := m.GetImageMessage(); img != nil {
		if pm.Text == "" {
			pm.Text = img.GetCaption()
		}
		pm.Media = &Media{
			Type:       "image",
			Caption:    img.GetCaption(),
			MimeType:   img.GetMimetype(),
			FileLength: img.GetFileLength(),
			Source:     img,
		}
	}

	if vid := m.GetVideoMessage(); vid != nil {
		if pm.Text == "" {
			pm.Text = vid.GetCaption()
		}
		mediaType := "video"
		if vid.GetGifPlayback() {
			mediaType = "gif"
		}
		pm.Media = &Media{
			Type:       mediaType,
			Caption:    vid.GetCaption(),
			MimeType:   vid.GetMimetype(),
			FileLength: vid.GetFileLength(),
			Source:     vid,
		}
	}

	if aud := m.GetAudioMessage(); aud != nil {
		pm.Media = &Media{
			Type:       "audio",
			MimeType:   aud.GetMimetype(),
			FileLength: aud.GetFileLength(),
			Source:     aud,
		}
	}

	if doc := m.GetDocumentMessage(); doc != nil {
		if pm.Text == "" {
			pm.Text = doc.GetCaption()
		}
		pm.Media = &Media{
			Type:       "document",
			Caption:    doc.GetCaption(),
			Filename:   doc.GetFileName(),
			MimeType:   doc.GetMimetype(),
			FileLength: doc.GetFileLength(),
			Source:     doc,
		}
	}

	if sticker := m.GetStickerMessage(); sticker != nil {
		pm.Media = &Media{
			Type:       "sticker",
			MimeType:   sticker.GetMimetype(),
			FileLength: sticker.GetFileLength(),
			Source:     sticker,
		}
	}

	if ctx := contextInfoForMessage(m); ctx != nil {
		if id := strings.TrimSpace(ctx.GetStanzaID()); id != "" {
			pm.ReplyToID = id
		}
		if ctx.GetIsForwarded() {
			pm.ForwardedFrom = strings.TrimSpace(ctx.GetForwardedNewsletterMessageInfo().GetNewsletterJID())
		}
	}

	if pm.Text == "" && pm.Media == nil && pm.Action == "" {
		if label := placeholderText(m); label != "" {
			pm.Text = label
		} else {
			pm.Skip = true
		}
	}
}

// unwrapMessage strips the ephemeral, view-once and captioned-document
// envelopes.
func unwrapMessage(m *waProto.Message) *waProto.Message {
	for i := 0; i < 4 && m != nil; i++ {
		switch {
		case m.GetEphemeralMessage().GetMessage() != nil:
			m = m.GetEphemeralMessage().GetMessage()
		case m.GetViewOnceMessage().GetMessage() != nil:
			m = m.GetViewOnceMessage().GetMessage()
		case m.GetViewOnceMessageV2().GetMessage() != nil:
			m = m.GetViewOnceMessageV2().GetMessage()
		case m.GetDocumentWithCaptionMessage().GetMessage() != nil:
			m = m.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return m
		}
	}
	return m
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func contextInfoForMessage(m *waProto.Message) *waProto.ContextInfo {
	if m == nil {
		return nil
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetContextInfo()
	}
	if img := m.GetImageMessage(); img != nil {
		return img.GetContextInfo()
	}
	if vid := m.GetVideoMessage(); vid != nil {
		return vid.GetContextInfo()
	}
	if aud := m.GetAudioMessage(); aud != nil {
		return aud.GetContextInfo()
	}
	if doc := m.GetDocumentMessage(); doc != nil {
		return doc.GetContextInfo()
	}
	if sticker := m.GetStickerMessage(); sticker != nil {
		return sticker.GetContextInfo()
	}
	if loc := m.GetLocationMessage(); loc != nil {
		return loc.GetContextInfo()
	}
	if contact := m.GetContactMessage(); contact != nil {
		return contact.GetContextInfo()
	}
	if contacts := m.GetContactsArrayMessage(); contacts != nil {
		return contacts.GetContextInfo()
	}
	return nil
}

// placeholderText describes content we archive as text only.
func placeholderText(m *waProto.Message) string {
	if loc := m.GetLocationMessage(); loc != nil {
		if name := strings.TrimSpace(loc.GetName()); name != "" {
			return "[Location] " + name
		}
		return "[Location]"
	}
	if contact := m.GetContactMessage(); contact != nil {
		return "[Contact] " + strings.TrimSpace(contact.GetDisplayName())
	}
	if contacts := m.GetContactsArrayMessage(); contacts != nil {
		return "[Contacts] " + strings.TrimSpace(contacts.GetDisplayName())
	}
	return ""
}

// attachmentName returns the file name a download is stored under.
func attachmentName(waID string, md *Media) string {
	if name := strings.TrimSpace(md.Filename); name != "" {
		return name
	}
	return md.Type + "-" + waID + extensionFor(md.MimeType)
}

var commonExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"application/pdf": ".pdf",
}

func extensionFor(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return ""
	}
	if ext, ok := commonExtensions[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
