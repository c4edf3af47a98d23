package channels

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

type sentCall struct {
	kind    string // "text" or "media"
	text    string // text or caption
	url     string
	replyTo string
}

type fakeSender struct {
	hardLimit int
	calls     []sentCall
	failAt    int // 1-based call index to fail, 0 = never
}

func (f *fakeSender) SendText(_ context.Context, _, text, replyTo string) (string, error) {
	f.calls = append(f.calls, sentCall{kind: "text", text: text, replyTo: replyTo})
	if f.failAt == len(f.calls) {
		return "", errors.New("boom")
	}
	return "id", nil
}

func (f *fakeSender) SendMedia(_ context.Context, _, url, caption, replyTo string) (string, error) {
	f.calls = append(f.calls, sentCall{kind: "media", text: caption, url: url, replyTo: replyTo})
	if f.failAt == len(f.calls) {
		return "", errors.New("boom")
	}
	return "id", nil
}

func (f *fakeSender) SendTyping(context.Context, string) {}

func (f *fakeSender) HardLimit() int { return f.hardLimit }

func deliver(s *fakeSender, replies []types.ReplyPayload, opts DeliverOptions) DeliverResult {
	return Deliver(context.Background(), s, "target", replies, opts)
}

func TestFirstModeThreadsExactlyOnce(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	// 3 payloads, each producing 2 sends: text split into 2 chunks via two
	// media URLs per payload.
	replies := []types.ReplyPayload{
		{Text: "a", MediaURLs: []string{"http://x/1.jpg", "http://x/2.jpg"}},
		{Text: "b", MediaURLs: []string{"http://x/3.jpg", "http://x/4.jpg"}},
		{Text: "c", MediaURLs: []string{"http://x/5.jpg", "http://x/6.jpg"}},
	}
	res := deliver(s, replies, DeliverOptions{ReplyToMode: config.ReplyToFirst, OriginID: "orig"})

	if res.Attempted != 6 || res.Sent != 6 {
		t.Fatalf("attempted=%d sent=%d, want 6/6", res.Attempted, res.Sent)
	}
	threaded := 0
	for i, c := range s.calls {
		if c.replyTo != "" {
			threaded++
			if i != 0 {
				t.Errorf("send %d threaded; only the very first may thread", i)
			}
		}
	}
	if threaded != 1 {
		t.Errorf("threaded sends = %d, want exactly 1", threaded)
	}
}

func TestAllModeThreadsEverySend(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	replies := []types.ReplyPayload{{Text: "one"}, {Text: "two"}}
	deliver(s, replies, DeliverOptions{ReplyToMode: config.ReplyToAll, OriginID: "orig"})
	for i, c := range s.calls {
		if c.replyTo != "orig" {
			t.Errorf("send %d replyTo = %q, want orig", i, c.replyTo)
		}
	}
}

func TestOffModeNeverThreads(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	deliver(s, []types.ReplyPayload{{Text: "one", ReplyToID: "explicit"}},
		DeliverOptions{ReplyToMode: config.ReplyToOff, OriginID: "orig"})
	if s.calls[0].replyTo != "" {
		t.Errorf("off mode must not thread, got %q", s.calls[0].replyTo)
	}
}

func TestTextThenBareMediaPayloads(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	replies := []types.ReplyPayload{
		{Text: "part1"},
		{Text: "", MediaURL: "http://x/img.jpg"},
	}
	res := deliver(s, replies, DeliverOptions{ReplyToMode: config.ReplyToOff})

	if res.Attempted != 2 {
		t.Fatalf("attempted = %d, want 2", res.Attempted)
	}
	if s.calls[0].kind != "text" || s.calls[0].text != "part1" {
		t.Errorf("first send = %+v, want text part1", s.calls[0])
	}
	if s.calls[1].kind != "media" || s.calls[1].text != "" || s.calls[1].url != "http://x/img.jpg" {
		t.Errorf("second send = %+v, want bare media", s.calls[1])
	}
}

func TestFirstMediaCarriesCaption(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	replies := []types.ReplyPayload{
		{Text: "the caption", MediaURLs: []string{"http://x/a.jpg", "http://x/b.jpg", "http://x/c.jpg"}},
	}
	deliver(s, replies, DeliverOptions{ReplyToMode: config.ReplyToOff})

	if s.calls[0].text != "the caption" {
		t.Errorf("first media caption = %q", s.calls[0].text)
	}
	for i := 1; i < len(s.calls); i++ {
		if s.calls[i].text != "" {
			t.Errorf("media send %d duplicated the caption", i)
		}
	}
}

func TestEmptyPayloadSkipped(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	res := deliver(s, []types.ReplyPayload{{}, {Text: "real"}}, DeliverOptions{})
	if res.Attempted != 1 || len(s.calls) != 1 {
		t.Errorf("silent payload should be skipped, attempted=%d calls=%d", res.Attempted, len(s.calls))
	}
	if !res.Replied() {
		t.Error("turn with one attempted send counts as replied")
	}
}

func TestAllSilentNotReplied(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	res := deliver(s, []types.ReplyPayload{{}, {}}, DeliverOptions{})
	if res.Replied() {
		t.Error("all-silent turn must not count as replied")
	}
}

func TestFailureDoesNotAbortRemaining(t *testing.T) {
	s := &fakeSender{hardLimit: 2000, failAt: 1}
	replies := []types.ReplyPayload{{Text: "one"}, {Text: "two"}}
	res := deliver(s, replies, DeliverOptions{ReplyToMode: config.ReplyToOff})

	if len(s.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (failure must not abort the turn)", len(s.calls))
	}
	if res.Failed != 1 || res.Sent != 1 || res.Attempted != 2 {
		t.Errorf("result = %+v", res)
	}
	if !res.Replied() {
		t.Error("turn with attempted sends counts as replied even after failures")
	}
}

func TestChunkingUsesEffectiveLimit(t *testing.T) {
	s := &fakeSender{hardLimit: 50}
	long := strings.Repeat("word ", 40) // 200 bytes
	deliver(s, []types.ReplyPayload{{Text: long}}, DeliverOptions{ChunkLimit: 1000})
	if len(s.calls) < 4 {
		t.Fatalf("expected chunking at hard limit 50, got %d sends", len(s.calls))
	}
	for i, c := range s.calls {
		if len(c.text) > 50 {
			t.Errorf("chunk %d is %d bytes, over hard limit", i, len(c.text))
		}
	}
}

func TestCaptionTruncated(t *testing.T) {
	s := &fakeSender{hardLimit: 2000}
	deliver(s, []types.ReplyPayload{{Text: strings.Repeat("x", 100), MediaURL: "http://x/a.jpg"}},
		DeliverOptions{CaptionLimit: 24})
	if len(s.calls[0].text) > 24 {
		t.Errorf("caption %d bytes, cap 24", len(s.calls[0].text))
	}
}
