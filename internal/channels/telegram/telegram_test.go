package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestMentionsBot(t *testing.T) {
	if !mentionsBot(&tele.Message{Text: "hello @ClawBot how are you"}, 1, "clawbot") {
		t.Error("case-insensitive @mention not detected")
	}
	if mentionsBot(&tele.Message{Text: "hello"}, 1, "clawbot") {
		t.Error("plain text counted as mention")
	}
	reply := &tele.Message{Text: "nice", ReplyTo: &tele.Message{Sender: &tele.User{ID: 1}}}
	if !mentionsBot(reply, 1, "clawbot") {
		t.Error("reply to the bot's own message not detected")
	}
	other := &tele.Message{Text: "nice", ReplyTo: &tele.Message{Sender: &tele.User{ID: 2}}}
	if mentionsBot(other, 1, "clawbot") {
		t.Error("reply to another user counted as mention")
	}
	if !mentionsBot(&tele.Message{Caption: "@clawbot look"}, 1, "clawbot") {
		t.Error("caption mention not detected")
	}
}

func TestStripMention(t *testing.T) {
	if got := stripMention("@ClawBot status", "clawbot"); got != "status" {
		t.Errorf("stripMention = %q, want %q", got, "status")
	}
	if got := stripMention("plain", ""); got != "plain" {
		t.Errorf("stripMention = %q, want %q", got, "plain")
	}
}
