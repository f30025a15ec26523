package store

import "strings"

// broadcastBase is the numeric prefix Telegram's Bot API uses for
// supergroup and channel ids: canonical id = -1000000000000 - rawID.
const broadcastBase = int64(-1_000_000_000_000)

// NormalizeChatID maps a transport chat id to its canonical stored form.
// Direct chats keep their positive id. Broadcast chats (groups lifted to
// supergroups, channels) arrive either as a raw positive id (MTProto
// style) or already carrying the -100 prefix; both normalize to the
// prefixed form. Storage and lookup must both go through this function.
//
// The policy deliberately lives in this one pure function so it can be
// corrected without touching any backend.
func NormalizeChatID(id int64, kind ChatKind) int64 {
	switch kind {
	case ChatGroup, ChatChannel:
		if id <= broadcastBase {
			return id // already canonical
		}
		if id < 0 {
			// Legacy small-group id: strip the sign before prefixing.
			return broadcastBase + id
		}
		return broadcastBase - id
	default:
		return id
	}
}

// KindFromChatType maps a transport chat-type string onto ChatKind.
func KindFromChatType(t string) ChatKind {
	switch strings.ToLower(t) {
	case "private", "direct", "user":
		return ChatDirect
	case "group", "supergroup":
		return ChatGroup
	case "channel", "broadcast":
		return ChatChannel
	default:
		return ChatUnknown
	}
}
