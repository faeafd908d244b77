package adapter

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "surveybot/internal/transport"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()
	if got := splitText("hello", 10, ""); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(in, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextAvoidsCuttingHTMLTags(t *testing.T) {
	t.Parallel()
	in := "abcdef<b>bold</b>"
	got := splitText(in, 8, tele.ModeHTML)
	if got[0] != "abcdef" {
		t.Fatalf("first chunk %q", got[0])
	}
	if strings.Join(got, "") != in {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestToMarkup(t *testing.T) {
	t.Parallel()
	if toMarkup(nil) != nil {
		t.Fatalf("nil rows should yield nil markup")
	}
	rm := toMarkup([][]kit.Button{{{Text: "Yes", Data: "survey:answer:1:0"}, {Text: "No", Data: "survey:answer:1:1"}}})
	if len(rm.InlineKeyboard) != 1 || rm.InlineKeyboard[0][1].Data != "survey:answer:1:1" {
		t.Fatalf("markup=%+v", rm.InlineKeyboard)
	}
}

func TestClassifyUnreachable(t *testing.T) {
	t.Parallel()
	if err := classify(tele.ErrBlockedByUser); !errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("blocked should be unreachable: %v", err)
	}
	other := errors.New("timeout")
	if err := classify(other); errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("generic error misclassified")
	}
}

func TestMenuCommandsDefaultsAndCap(t *testing.T) {
	t.Parallel()
	var in []kit.BotCommand
	for i := 0; i < 120; i++ {
		in = append(in, kit.BotCommand{Command: "c"})
	}
	in = append([]kit.BotCommand{{Command: ""}}, in...)
	got := menuCommands(in)
	if len(got) != maxMenuCommands || got[0].Description != "c" {
		t.Fatalf("len=%d first=%+v", len(got), got[0])
	}
}
