package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autotrader/internal/quota"
	"autotrader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseRecommendationAcceptsFencedJSON(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	raw := "```json\n{\"symbol\":\"AAPL\",\"action\":\"buy\",\"confidence\":92,\"target_price\":190.5,\"risk_level\":\"medium\",\"reasoning\":\"earnings beat\"}\n```"
	rec, err := ParseRecommendation(raw, "AAPL", "alpha", now)
	require.NoError(t, err)
	assert.Equal(t, types.Recommendation{
		Symbol:      "AAPL",
		Action:      types.ActionBuy,
		Confidence:  92,
		TargetPrice: 190.5,
		RiskLevel:   types.RiskMedium,
		Reasoning:   "earnings beat",
		GeneratedAt: now,
		Provider:    "alpha",
	}, rec)
}

func TestParseRecommendationRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         "I think you should buy",
		"missing action":   `{"confidence":80,"risk_level":"LOW"}`,
		"confidence > 100": `{"action":"BUY","confidence":150,"risk_level":"LOW"}`,
		"bad risk":         `{"action":"BUY","confidence":80,"risk_level":"EXTREME"}`,
		"other symbol":     `{"symbol":"MSFT","action":"BUY","confidence":80,"risk_level":"LOW"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecommendation(raw, "AAPL", "alpha", time.Now())
			assert.ErrorIs(t, err, ErrProviderRequestFailed)
		})
	}
}

func TestRenderPromptIncludesPosition(t *testing.T) {
	out, err := RenderPrompt(PromptInput{
		Quote:       types.Quote{Symbol: "AAPL", Price: 180, ChangePercent: 1.25, Volume: 1000},
		Held:        true,
		Quantity:    10,
		AverageCost: 150,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Symbol: AAPL")
	assert.Contains(t, out, "Dollar volume: 180000")
	assert.Contains(t, out, "10 shares at average cost 150.0000")
}

type mockClient struct {
	mock.Mock
	name string
}

func (m *mockClient) Name() string { return m.name }

func (m *mockClient) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func TestRecommenderFallsBackOnMalformedResponse(t *testing.T) {
	tr := quota.NewTracker([]string{"alpha", "beta"}, map[string]int{"alpha": 5, "beta": 5})
	d := NewDispatcher(tr, WithSleep(func(context.Context, time.Duration) error { return nil }))

	alpha := &mockClient{name: "alpha"}
	alpha.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("no idea", nil)
	beta := &mockClient{name: "beta"}
	beta.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"action":"SELL","confidence":81,"target_price":99,"risk_level":"LOW","reasoning":"weak"}`, nil)

	r := NewRecommender(d, []Client{alpha, beta}, Options{PreferredProvider: "alpha", EnableFallback: true, RetryAttempts: 2})
	res, err := r.Recommend(context.Background(), PromptInput{Quote: types.Quote{Symbol: "AAPL", Price: 100}})
	require.NoError(t, err)
	assert.Equal(t, "beta", res.ProviderUsed)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, types.ActionSell, res.Data.Action)
	assert.Equal(t, "beta", res.Data.Provider)
	alpha.AssertNumberOfCalls(t, "Complete", 1)
	beta.AssertNumberOfCalls(t, "Complete", 1)
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"action\":\"HOLD\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIClientConfig{
		Name:    "alpha",
		BaseURL: srv.URL + "/v1/chat/completions",
		APIKey:  "sk-test",
		Model:   "gpt-test",
		Timeout: time.Second,
		Headers: map[string]string{"X-Extra": "yes"},
	})
	out, err := c.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"action":"HOLD"}`, out)
}

func TestOpenAIClientErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`, ErrProviderQuota},
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests"}}`, ErrProviderRequestFailed},
		{"server", http.StatusBadGateway, `{}`, ErrProviderRequestFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			c := NewOpenAIClient(OpenAIClientConfig{Name: "alpha", BaseURL: srv.URL, Timeout: time.Second})
			_, err := c.Complete(context.Background(), "", "hi")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err.Error())
		})
	}
}
