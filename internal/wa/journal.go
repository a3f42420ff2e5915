package wa

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"

	"github.com/tcai793/datamanager/internal/remote"
)

// idsPerSecond bounds how many messages of one chat can share a timestamp
// second. WhatsApp message ids are opaque strings, so archive ids are derived
// from the timestamp: unix seconds * idsPerSecond + position within the second.
const idsPerSecond = 1000

// inlineFile is attachment content that arrived inside the message itself.
type inlineFile []byte

type chatState struct {
	jid        types.JID
	name       string
	pushName   string
	unread     int
	archived   bool
	mutedUntil time.Time
	msgs       map[string]ParsedMessage
}

// journal collects what history sync and live events deliver during a
// connection window.
type journal struct {
	mu    sync.Mutex
	chats map[string]*chatState
}

func newJournal() *journal {
	return &journal{chats: map[string]*chatState{}}
}

func (j *journal) state(jid types.JID) *chatState {
	id := jid.String()
	st, ok := j.chats[id]
	if !ok {
		st = &chatState{jid: jid, msgs: map[string]ParsedMessage{}}
		j.chats[id] = st
	}
	return st
}

// addConversation records a history sync conversation and returns how many
// new messages it contained.
func (j *journal) addConversation(conv *waHistorySync.Conversation) int {
	chatID := strings.TrimSpace(conv.GetID())
	jid, err := types.ParseJID(chatID)
	if err != nil || jid.IsEmpty() {
		return 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	st := j.state(jid)
	if name := strings.TrimSpace(conv.GetName()); name != "" {
		st.name = name
	}
	st.unread = int(conv.GetUnreadCount())
	st.archived = conv.GetArchived()
	if end := conv.GetMuteEndTime(); end > 0 {
		st.mutedUntil = time.Unix(int64(end), 0).UTC()
	}

	added := 0
	for _, m := range conv.GetMessages() {
		if m.GetMessage() == nil {
			continue
		}
		pm := ParseHistoryMessage(chatID, m.GetMessage())
		if j.addLocked(st, pm) {
			added++
		}
	}
	return added
}

func (j *journal) add(pm ParsedMessage) bool {
	if pm.Chat.IsEmpty() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.addLocked(j.state(pm.Chat), pm)
}

func (j *journal) addLocked(st *chatState, pm ParsedMessage) bool {
	if pm.ID == "" || pm.Skip || pm.Timestamp.Unix() <= 0 {
		return false
	}
	if _, ok := st.msgs[pm.ID]; ok {
		return false
	}
	if !pm.FromMe && st.pushName == "" && st.jid.Server == types.DefaultUserServer {
		st.pushName = pm.PushName
	}
	st.msgs[pm.ID] = pm
	return true
}

func (j *journal) snapshot() []chatState {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]chatState, 0, len(j.chats))
	for _, st := range j.chats {
		cp := *st
		cp.msgs = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].jid.String() < out[b].jid.String() })
	return out
}

// messages returns the chat's messages oldest first with archive ids
// assigned. self is used as sender of messages sent from this account.
func (j *journal) messages(chatID, self string) []remote.Message {
	j.mu.Lock()
	st, ok := j.chats[chatID]
	var pms []ParsedMessage
	if ok {
		pms = make([]ParsedMessage, 0, len(st.msgs))
		for _, pm := range st.msgs {
			pms = append(pms, pm)
		}
	}
	j.mu.Unlock()

	sort.Slice(pms, func(a, b int) bool {
		if !pms[a].Timestamp.Equal(pms[b].Timestamp) {
			return pms[a].Timestamp.Before(pms[b].Timestamp)
		}
		return pms[a].ID < pms[b].ID
	})

	ids := make(map[string]int64, len(pms))
	kept := pms[:0]
	var sec, ord int64 = -1, 0
	for _, pm := range pms {
		s := pm.Timestamp.Unix()
		if s != sec {
			sec, ord = s, 0
		}
		if ord >= idsPerSecond {
			continue
		}
		ids[pm.ID] = s*idsPerSecond + ord
		ord++
		kept = append(kept, pm)
	}

	out := make([]remote.Message, 0, len(kept))
	for _, pm := range kept {
		out = append(out, toRemote(pm, ids, self))
	}
	return out
}

func toRemote(pm ParsedMessage, ids map[string]int64, self string) remote.Message {
	id := ids[pm.ID]
	m := remote.Message{
		ID:        id,
		Date:      pm.Timestamp,
		Text:      pm.Text,
		SenderID:  pm.SenderJID,
		ReplyToID: ids[pm.ReplyToID],
		FwdFrom:   pm.ForwardedFrom,
		Action:    pm.Action,
	}
	if pm.FromMe && self != "" {
		m.SenderID = self
	}
	if pm.Media != nil && pm.Media.Source != nil {
		m.Primary = &remote.Attachment{
			Kind:     pm.Media.Type,
			Name:     attachmentName(pm.ID, pm.Media),
			MimeType: pm.Media.MimeType,
			Size:     int64(pm.Media.FileLength),
			Ref:      pm.Media.Source,
		}
	}
	if pm.Preview != nil {
		m.Preview = &remote.WebPage{URL: pm.Preview.URL}
		if len(pm.Preview.Thumbnail) > 0 {
			m.Preview.Photos = []remote.Attachment{{
				Kind:     "preview",
				Name:     "preview-" + pm.ID + ".jpg",
				MimeType: "image/jpeg",
				Size:     int64(len(pm.Preview.Thumbnail)),
				Ref:      inlineFile(pm.Preview.Thumbnail),
			}}
		}
	}
	return m
}
