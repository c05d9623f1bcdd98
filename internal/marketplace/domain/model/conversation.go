package model

import (
	"sort"
	"strings"
	"time"

	docmodel "habitora-core/internal/docstore/domain/model"
)

// Conversations live under a single root collection; messages hang off each
// conversation as a subcollection observed through the live query layer.
const ConversationsCollection = "conversations"

// PlaceholderDisplayName is used when the identity lookup for a participant
// fails during conversation creation. Resolution must still succeed; the
// snapshot just carries the placeholder instead of a real name.
const PlaceholderDisplayName = "Unknown user"

// CanonicalConversationID derives the single conversation identity for an
// unordered pair of participants: the sorted pair joined with an underscore.
// Both sides of a first contact compute the same id no matter who initiates,
// which is what makes the conditional create converge on one document.
func CanonicalConversationID(firstID, secondID string) string {
	a, b := SortedPair(firstID, secondID)
	return a + "_" + b
}

// SortedPair returns the two participant ids in lexicographic order.
func SortedPair(firstID, secondID string) (string, string) {
	if strings.Compare(firstID, secondID) <= 0 {
		return firstID, secondID
	}
	return secondID, firstID
}

// ConversationPath returns the document path for a conversation id.
func ConversationPath(conversationID string) string {
	return ConversationsCollection + "/" + conversationID
}

// MessagesCollection returns the message subcollection path of a conversation.
func MessagesCollection(conversationID string) string {
	return ConversationPath(conversationID) + "/messages"
}

// MessagePath returns the document path of one message.
func MessagePath(conversationID, messageID string) string {
	return MessagesCollection(conversationID) + "/" + messageID
}

// ParticipantDetail is the identity snapshot stored per participant at
// conversation creation time. It is not kept live; renames after creation do
// not propagate here.
type ParticipantDetail struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Conversation is the two-party chat channel document. Invariants: exactly
// one conversation per unordered participant pair, participants sorted, and
// the unreadFor key set equal to the participants set at all times.
type Conversation struct {
	ID                 string                       `json:"id"`
	Participants       []string                     `json:"participants"`
	ParticipantDetails map[string]ParticipantDetail `json:"participantDetails"`
	LastMessage        string                       `json:"lastMessage"`
	UnreadFor          map[string]bool              `json:"unreadFor"`
	CreatedAt          time.Time                    `json:"createdAt"`
	UpdatedAt          time.Time                    `json:"updatedAt"`
}

// HasParticipant reports whether the user belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// CounterpartOf returns the other participant of a two-party conversation.
func (c *Conversation) CounterpartOf(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// NewConversationData builds the document data for a fresh conversation. The
// unread map starts all-false with one key per participant, and timestamps
// resolve server-side at write time.
func NewConversationData(participants []string, details map[string]ParticipantDetail) map[string]interface{} {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)

	participantList := make([]interface{}, len(sorted))
	unreadFor := make(map[string]interface{}, len(sorted))
	detailMap := make(map[string]interface{}, len(sorted))
	for i, id := range sorted {
		participantList[i] = id
		unreadFor[id] = false
		detail, ok := details[id]
		if !ok {
			detail = ParticipantDetail{Name: PlaceholderDisplayName}
		}
		detailMap[id] = map[string]interface{}{
			"name": detail.Name,
			"role": detail.Role,
		}
	}

	return map[string]interface{}{
		"participants":       participantList,
		"participantDetails": detailMap,
		"lastMessage":        "",
		"unreadFor":          unreadFor,
		"createdAt":          docmodel.ServerTimestamp,
		"updatedAt":          docmodel.ServerTimestamp,
	}
}

// ConversationFromDocument maps a stored document back onto the model.
func ConversationFromDocument(doc *docmodel.Document) *Conversation {
	if doc == nil {
		return nil
	}

	conv := &Conversation{
		ID:                 doc.ID,
		Participants:       stringSliceField(doc.Data, "participants"),
		ParticipantDetails: make(map[string]ParticipantDetail),
		LastMessage:        stringField(doc.Data, "lastMessage"),
		UnreadFor:          make(map[string]bool),
		CreatedAt:          timeField(doc.Data, "createdAt", doc.CreatedAt),
		UpdatedAt:          timeField(doc.Data, "updatedAt", doc.UpdatedAt),
	}

	if details, ok := doc.Data["participantDetails"].(map[string]interface{}); ok {
		for id, raw := range details {
			if m, ok := raw.(map[string]interface{}); ok {
				conv.ParticipantDetails[id] = ParticipantDetail{
					Name: stringField(m, "name"),
					Role: stringField(m, "role"),
				}
			}
		}
	}
	if unread, ok := doc.Data["unreadFor"].(map[string]interface{}); ok {
		for id, raw := range unread {
			flag, _ := raw.(bool)
			conv.UnreadFor[id] = flag
		}
	}
	return conv
}

// Message is one entry of a conversation's message stream.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewMessageData builds the document data for one message.
func NewMessageData(senderID, text string) map[string]interface{} {
	return map[string]interface{}{
		"senderId":  senderID,
		"text":      text,
		"createdAt": docmodel.ServerTimestamp,
	}
}

// MessageFromDocument maps a stored message document onto the model. The
// conversation id is recovered from the document path.
func MessageFromDocument(doc *docmodel.Document) *Message {
	if doc == nil {
		return nil
	}
	segments := docmodel.SplitPath(doc.Path)
	conversationID := ""
	if len(segments) >= 2 {
		conversationID = segments[1]
	}
	return &Message{
		ID:             doc.ID,
		ConversationID: conversationID,
		SenderID:       stringField(doc.Data, "senderId"),
		Text:           stringField(doc.Data, "text"),
		CreatedAt:      timeField(doc.Data, "createdAt", doc.CreatedAt),
	}
}
