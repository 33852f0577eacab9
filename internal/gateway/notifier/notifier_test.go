package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"autotrader/internal/engine"
	"autotrader/internal/orders"
	"autotrader/internal/queue"
	"autotrader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func TestRenderTradeEvent(t *testing.T) {
	ev := engine.Event{
		Kind: engine.EventTradeCompleted,
		At:   at,
		Trade: &queue.Trade{
			ID: "t-1", Symbol: "AAPL", Action: types.ActionBuy, Quantity: 10,
			ExecutedPrice: 50, Priority: queue.PriorityHigh, Source: queue.SourceRecommendation,
			Reason: "momentum",
		},
	}
	n := Render(ev)
	assert.Equal(t, "✅ BUY 10 AAPL executed", n.Headline)
	text := n.Text()
	assert.Contains(t, text, "priority  HIGH\n")
	assert.Contains(t, text, "notional  500.00\n")
	assert.Contains(t, text, "\nmomentum")
	assert.Contains(t, text, "at 2026-03-02 15:00:00 UTC")
	assert.NotContains(t, text, "order ", "empty fields are dropped")
}

func TestRenderFailedTradeShowsFailure(t *testing.T) {
	text := Render(engine.Event{Kind: engine.EventTradeFailed, Trade: &queue.Trade{
		ID: "t-2", Symbol: "MSFT", Action: types.ActionSell, Quantity: 3, TargetPrice: 400,
		Reason: "take profit", FailureReason: "insufficient_shares",
	}}).Text()
	assert.Contains(t, text, "❌ SELL 3 MSFT failed")
	assert.Contains(t, text, "target  400.0000")
	assert.Contains(t, text, "failure: insufficient\\_shares")
	assert.NotContains(t, text, "take profit")
}

func TestRenderStateAndOrderEvents(t *testing.T) {
	text := Render(engine.Event{Kind: engine.EventStateChanged, From: engine.StateRunning, To: engine.StateError, Reason: "execution circuit open"}).Text()
	assert.Contains(t, text, "🛑 Bot ERROR")
	assert.Contains(t, text, "RUNNING -> ERROR")
	assert.Contains(t, text, "execution circuit open")

	text = Render(engine.Event{Kind: engine.EventOrderTriggered, Order: &orders.SellInstruction{
		OrderID: "o-1", Symbol: "AAPL", Kind: orders.KindStopLoss, Quantity: 4, Price: 47, Reason: "stop-loss hit",
	}}).Text()
	assert.Contains(t, text, "⚡ stop loss triggered on AAPL")
	assert.Contains(t, text, "sell   4 at 47.0000")
	assert.NotContains(t, text, "group")
}

func TestNoticeTextKeepsFenceAndFitsLimit(t *testing.T) {
	n := Notice{
		Headline: "Bot RUNNING",
		Fields:   []Field{{Label: "state", Value: "a```b"}},
		Note:     strings.Repeat("é", maxNoticeLen*2),
	}
	text := n.Text()
	assert.Equal(t, 2, strings.Count(text, "```"), "field values cannot close the block")
	assert.Contains(t, text, "a'''b")
	assert.True(t, strings.HasSuffix(text, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(text), maxNoticeLen)
	assert.True(t, utf8.ValidString(text))
}

func TestTelegramSendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{BotToken: "TOKEN", ChatID: "42", BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegramReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{BotToken: "TOKEN", ChatID: "42", BaseURL: srv.URL})
	require.NoError(t, err)
	err = tg.SendText(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	_, err = NewTelegram(TelegramConfig{BotToken: "TOKEN"})
	assert.Error(t, err)
}

type captureSender struct{ sent chan string }

func (c *captureSender) SendText(_ context.Context, text string) error {
	c.sent <- text
	return nil
}

func TestRelayFiltersAndSends(t *testing.T) {
	sender := &captureSender{sent: make(chan string, 4)}
	relay := NewRelay(sender, engine.EventStateChanged)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	relay.OnEvent(engine.Event{Kind: engine.EventTradeCompleted, Trade: &queue.Trade{Symbol: "AAPL"}})
	relay.OnEvent(engine.Event{Kind: engine.EventStateChanged, From: engine.StateStopped, To: engine.StateRunning})

	select {
	case text := <-sender.sent:
		assert.Contains(t, text, "Bot RUNNING")
	case <-time.After(5 * time.Second):
		t.Fatal("no notification sent")
	}
	select {
	case text := <-sender.sent:
		t.Fatalf("unexpected notification: %s", text)
	case <-time.After(50 * time.Millisecond):
	}
}
