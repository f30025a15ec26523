package store

import "testing"

func TestNormalizeChatID(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		kind ChatKind
		want int64
	}{
		{"direct positive", 123456, ChatDirect, 123456},
		{"channel raw positive", 456, ChatChannel, -1_000_000_000_456},
		{"supergroup already prefixed", -1_000_000_000_456, ChatGroup, -1_000_000_000_456},
		{"legacy group negative", -456, ChatGroup, -1_000_000_000_456},
		{"unknown passthrough", -789, ChatUnknown, -789},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeChatID(tt.id, tt.kind)
			if got != tt.want {
				t.Errorf("NormalizeChatID(%d, %s) = %d, want %d", tt.id, tt.kind, got, tt.want)
			}
		})
	}
}

func TestNormalizeChatID_Idempotent(t *testing.T) {
	for _, kind := range []ChatKind{ChatDirect, ChatGroup, ChatChannel} {
		for _, id := range []int64{1, 456, -456, -1_000_000_000_456} {
			once := NormalizeChatID(id, kind)
			twice := NormalizeChatID(once, kind)
			if once != twice {
				t.Errorf("normalization not idempotent for (%d, %s): %d != %d", id, kind, once, twice)
			}
		}
	}
}

func TestKindFromChatType(t *testing.T) {
	cases := map[string]ChatKind{
		"private":    ChatDirect,
		"group":      ChatGroup,
		"supergroup": ChatGroup,
		"channel":    ChatChannel,
		"Channel":    ChatChannel,
		"weird":      ChatUnknown,
		"":           ChatUnknown,
	}
	for in, want := range cases {
		if got := KindFromChatType(in); got != want {
			t.Errorf("KindFromChatType(%q) = %s, want %s", in, got, want)
		}
	}
}
