package client

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"gamechat/internal/chat"
)

// Status is the local delivery state of a message.
type Status string

const (
	StatusConfirmed Status = ""
	StatusSending   Status = "sending"
	StatusFailed    Status = "failed"
)

// localPrefix marks ids generated on this client. Server ids are uuids and
// never carry it.
const localPrefix = "local-"

// UIMessage is a message as the client renders it. ClientID is stable for
// the lifetime of the entry, even after the canonical id replaces a local one.
type UIMessage struct {
	chat.Message
	ClientID        string    `json:"clientId"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
	Status          Status    `json:"localStatus,omitempty"`
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}

func newLocalID(now time.Time) string {
	return localPrefix + strconv.FormatInt(now.UnixMilli(), 36) + "-" + strconv.FormatUint(rand.Uint64(), 36)
}

// The functions below never modify prev; they return the next list. Callers
// apply them to the latest state under a lock, so concurrent updates never
// work from a stale snapshot.

// Reconcile folds an inbound canonical message into the list.
//
// A message whose id is already present is a duplicate delivery. A message
// authored by selfID replaces the first still-sending local entry with the
// same author, trimmed content and reply target, keeping that entry's
// ClientID and ClientTimestamp. Anything else is appended.
func Reconcile(prev []UIMessage, msg chat.Message, selfID string, now time.Time) []UIMessage {
	for _, m := range prev {
		if m.ID == msg.ID {
			return prev
		}
	}

	if selfID != "" && msg.Author.UserID == selfID {
		content := strings.TrimSpace(msg.Content)
		for i, m := range prev {
			if m.Status != StatusSending || !IsLocalID(m.ID) {
				continue
			}
			if m.Author.UserID != selfID || strings.TrimSpace(m.Content) != content || !sameReply(m.ReplyToID, msg.ReplyToID) {
				continue
			}
			next := clone(prev)
			next[i] = UIMessage{Message: msg, ClientID: m.ClientID, ClientTimestamp: m.ClientTimestamp}
			return next
		}
	}

	return append(clone(prev), UIMessage{Message: msg, ClientID: msg.ID, ClientTimestamp: now})
}

// Confirm marks the entry clientID as delivered and adopts the canonical
// fields. If the echo already replaced the entry this is a no-op apart from
// the status.
func Confirm(prev []UIMessage, clientID string, canonical chat.Message) []UIMessage {
	i := indexOf(prev, clientID)
	if i < 0 {
		return prev
	}
	for j, m := range prev {
		if j != i && m.ID == canonical.ID {
			// The echo was reconciled into another entry; keep ids unique.
			next := clone(prev)
			next[i].Status = StatusConfirmed
			return next
		}
	}
	next := clone(prev)
	next[i].Message = canonical
	next[i].Status = StatusConfirmed
	return next
}

// Fail marks the entry clientID as failed. Failed entries stay visible.
func Fail(prev []UIMessage, clientID string) []UIMessage {
	i := indexOf(prev, clientID)
	if i < 0 || prev[i].Status != StatusSending {
		return prev
	}
	next := clone(prev)
	next[i].Status = StatusFailed
	return next
}

func indexOf(list []UIMessage, clientID string) int {
	for i, m := range list {
		if m.ClientID == clientID {
			return i
		}
	}
	return -1
}

func clone(list []UIMessage) []UIMessage {
	next := make([]UIMessage, len(list), len(list)+1)
	copy(next, list)
	return next
}

func sameReply(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
