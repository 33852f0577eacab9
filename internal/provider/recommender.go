package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"autotrader/internal/logger"
	"autotrader/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const recommendationSchema = `{
  "type": "object",
  "required": ["action", "confidence", "risk_level"],
  "properties": {
    "symbol": {"type": "string"},
    "action": {"type": "string", "enum": ["BUY", "SELL", "HOLD", "buy", "sell", "hold"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "target_price": {"type": "number", "minimum": 0},
    "risk_level": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH", "low", "medium", "high"]},
    "reasoning": {"type": "string"}
  }
}`

const systemPrompt = `You are a disciplined equity analyst. Answer with a single JSON object and nothing else.
Fields: symbol, action (BUY|SELL|HOLD), confidence (0-100), target_price (number), risk_level (LOW|MEDIUM|HIGH), reasoning (one sentence).`

var userPrompt = template.Must(template.New("recommend").Parse(`Symbol: {{.Symbol}}
Last price: {{printf "%.4f" .Price}}
Change: {{printf "%.2f" .ChangePercent}}%
Dollar volume: {{printf "%.0f" .Liquidity}}
{{- if .Held}}
Position: {{.Quantity}} shares at average cost {{printf "%.4f" .AverageCost}}
{{- else}}
Position: none
{{- end}}
Give your recommendation for the next trading session.`))

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("recommendation.json", strings.NewReader(recommendationSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = c.Compile("recommendation.json")
	})
	return schemaCompiled, schemaErr
}

// PromptInput is the market snapshot rendered for one symbol.
type PromptInput struct {
	types.Quote
	Held        bool
	Quantity    int64
	AverageCost float64
}

func RenderPrompt(in PromptInput) (string, error) {
	var b strings.Builder
	if err := userPrompt.Execute(&b, in); err != nil {
		return "", err
	}
	return b.String(), nil
}

// ParseRecommendation validates raw model output and builds a typed
// recommendation. Anything that does not satisfy the schema is a request
// failure.
func ParseRecommendation(raw, symbol, providerName string, now time.Time) (types.Recommendation, error) {
	body := extractJSONObject(raw)
	if body == "" || !gjson.Valid(body) {
		return types.Recommendation{}, fmt.Errorf("%s: response is not a JSON object: %w", providerName, ErrProviderRequestFailed)
	}
	sch, err := compiledSchema()
	if err != nil {
		return types.Recommendation{}, fmt.Errorf("compile recommendation schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return types.Recommendation{}, fmt.Errorf("%s: %v: %w", providerName, err, ErrProviderRequestFailed)
	}
	if err := sch.Validate(doc); err != nil {
		return types.Recommendation{}, fmt.Errorf("%s: schema: %v: %w", providerName, err, ErrProviderRequestFailed)
	}
	parsed := gjson.Parse(body)
	action, err := types.ParseAction(parsed.Get("action").String())
	if err != nil {
		return types.Recommendation{}, fmt.Errorf("%s: %v: %w", providerName, err, ErrProviderRequestFailed)
	}
	risk, err := types.ParseRiskLevel(parsed.Get("risk_level").String())
	if err != nil {
		return types.Recommendation{}, fmt.Errorf("%s: %v: %w", providerName, err, ErrProviderRequestFailed)
	}
	if got := strings.ToUpper(strings.TrimSpace(parsed.Get("symbol").String())); got != "" && got != strings.ToUpper(symbol) {
		return types.Recommendation{}, fmt.Errorf("%s: answered for %s instead of %s: %w", providerName, got, symbol, ErrProviderRequestFailed)
	}
	return types.Recommendation{
		Symbol:      symbol,
		Action:      action,
		Confidence:  parsed.Get("confidence").Float(),
		TargetPrice: parsed.Get("target_price").Float(),
		RiskLevel:   risk,
		Reasoning:   strings.TrimSpace(parsed.Get("reasoning").String()),
		GeneratedAt: now,
		Provider:    providerName,
	}, nil
}

// extractJSONObject strips markdown fences and surrounding prose.
func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// Recommender turns market snapshots into recommendations through the
// dispatcher.
type Recommender struct {
	dispatcher *Dispatcher
	clients    map[string]Client
	nowFn      func() time.Time

	mu   sync.RWMutex
	opts Options
}

func NewRecommender(d *Dispatcher, clients []Client, opts Options) *Recommender {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		if c != nil {
			m[c.Name()] = c
		}
	}
	return &Recommender{dispatcher: d, clients: m, opts: opts, nowFn: time.Now}
}

// SetOptions swaps the routing options after a config reload.
func (r *Recommender) SetOptions(opts Options) {
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

func (r *Recommender) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

func (r *Recommender) Recommend(ctx context.Context, in PromptInput) (Result[types.Recommendation], error) {
	prompt, err := RenderPrompt(in)
	if err != nil {
		return Result[types.Recommendation]{}, fmt.Errorf("render prompt: %w", err)
	}
	return Do(ctx, r.dispatcher, r.Options(), func(ctx context.Context, name string) (types.Recommendation, error) {
		client, ok := r.clients[name]
		if !ok {
			return types.Recommendation{}, fmt.Errorf("no client registered for %s: %w", name, ErrProviderRequestFailed)
		}
		raw, err := client.Complete(ctx, systemPrompt, prompt)
		logger.LogProviderExchange(name, "recommend "+in.Symbol, prompt, raw)
		if err != nil {
			return types.Recommendation{}, err
		}
		return ParseRecommendation(raw, in.Symbol, name, r.nowFn())
	})
}
