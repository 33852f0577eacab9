package notifier

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"autotrader/internal/engine"
)

// Telegram rejects messages above 4096 characters.
const maxNoticeLen = 3800

// Field is one aligned "label  value" row of a notice.
type Field struct {
	Label string
	Value string
}

// Notice is an engine event laid out for a chat message.
type Notice struct {
	Kind     engine.EventKind
	Headline string
	Fields   []Field
	Note     string
	At       time.Time
}

// Render lays out one engine event.
func Render(ev engine.Event) Notice {
	n := Notice{Kind: ev.Kind, At: ev.At}
	switch ev.Kind {
	case engine.EventStateChanged:
		n.Headline = fmt.Sprintf("%s Bot %s", stateIcon(ev.To), ev.To)
		n.Fields = []Field{{"state", fmt.Sprintf("%s -> %s", ev.From, ev.To)}}
		n.Note = ev.Reason
	case engine.EventTradeCompleted, engine.EventTradeFailed:
		renderTrade(&n, ev)
	case engine.EventOrderTriggered:
		renderOrder(&n, ev)
	default:
		n.Headline = string(ev.Kind)
		n.Note = ev.Reason
	}
	return n
}

func renderTrade(n *Notice, ev engine.Event) {
	icon, verb := "✅", "executed"
	if ev.Kind == engine.EventTradeFailed {
		icon, verb = "❌", "failed"
	}
	t := ev.Trade
	if t == nil {
		n.Headline = fmt.Sprintf("%s Trade %s", icon, verb)
		n.Note = ev.Reason
		return
	}
	n.Headline = fmt.Sprintf("%s %s %d %s %s", icon, t.Action, t.Quantity, t.Symbol, verb)
	n.Fields = []Field{
		{"trade", t.ID},
		{"source", string(t.Source)},
		{"priority", string(t.Priority)},
	}
	if t.ExecutedPrice > 0 {
		n.Fields = append(n.Fields,
			Field{"price", fmt.Sprintf("%.4f", t.ExecutedPrice)},
			Field{"notional", fmt.Sprintf("%.2f", t.Notional())},
		)
	} else if t.TargetPrice > 0 {
		n.Fields = append(n.Fields, Field{"target", fmt.Sprintf("%.4f", t.TargetPrice)})
	}
	if t.OrderID != "" {
		n.Fields = append(n.Fields, Field{"order", t.OrderID})
	}
	n.Note = t.Reason
	if t.FailureReason != "" {
		n.Note = "failure: " + t.FailureReason
	}
}

func renderOrder(n *Notice, ev engine.Event) {
	o := ev.Order
	if o == nil {
		n.Headline = "⚡ Protective order triggered"
		return
	}
	n.Headline = fmt.Sprintf("⚡ %s triggered on %s", strings.ToLower(strings.ReplaceAll(string(o.Kind), "_", " ")), o.Symbol)
	n.Fields = []Field{
		{"sell", fmt.Sprintf("%d at %.4f", o.Quantity, o.Price)},
		{"order", o.OrderID},
		{"group", o.GroupID},
	}
	n.Note = o.Reason
}

// Text renders the notice as Telegram Markdown: the headline, the fields in
// a fixed-width block, then the note and time.
func (n Notice) Text() string {
	var b strings.Builder
	b.WriteString(escapeMarkdown(strings.TrimSpace(n.Headline)))
	if block := n.fieldBlock(); block != "" {
		b.WriteString("\n```\n")
		b.WriteString(block)
		b.WriteString("```")
	}
	if !n.At.IsZero() {
		b.WriteString("\nat " + n.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	head := b.String()
	note := escapeMarkdown(strings.TrimSpace(n.Note))
	if note == "" {
		return truncate(head, maxNoticeLen)
	}
	// The note is free text from providers and brokers; it gives way first.
	room := maxNoticeLen - utf8.RuneCountInString(head) - 1
	if room <= 0 {
		return truncate(head, maxNoticeLen)
	}
	return head + "\n" + truncate(note, room)
}

func (n Notice) fieldBlock() string {
	width := 0
	rows := make([]Field, 0, len(n.Fields))
	for _, f := range n.Fields {
		v := unfence(strings.TrimSpace(f.Value))
		if v == "" {
			continue
		}
		rows = append(rows, Field{Label: f.Label, Value: v})
		if len(f.Label) > width {
			width = len(f.Label)
		}
	}
	var b strings.Builder
	for _, f := range rows {
		fmt.Fprintf(&b, "%-*s  %s\n", width, f.Label, f.Value)
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown protects text outside the code block from Telegram's
// legacy Markdown parser.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func unfence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// truncate cuts s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-3]) + "..."
}

func stateIcon(s engine.State) string {
	switch s {
	case engine.StateRunning:
		return "▶️"
	case engine.StatePaused:
		return "⏸"
	case engine.StateError:
		return "🛑"
	default:
		return "⏹"
	}
}
