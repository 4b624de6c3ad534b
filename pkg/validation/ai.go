package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// Gemini through the Google AI Studio OpenAI-compatible endpoint.
const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	geminiModel   = "gemini-2.5-flash"

	aiRequestTimeout = 60 * time.Second
)

const systemPrompt = `
Ты эксперт по проверке оригинальности товаров на основе объявлений.

ЗАДАЧА:
Проанализируй объявления и определи, какие из них предлагают ОРИГИНАЛЬНЫЕ товары.

КРИТЕРИИ ОТКЛОНЕНИЯ:
1. Скрытые признаки неоригинальности в тексте (завуалированные фразы типа "как оригинал", "качественная копия", "аналог оригинала", "совместимость", "подходит для")
2. Подозрительно низкая цена (дешевле 70% от среднего топ-20%)

ВАЖНО:
- Игнорируй явные стоп-слова (б/у, аналог) - они уже отфильтрованы механической валидацией
- Ищи СКРЫТЫЕ признаки и ценовые аномалии
- Будь строгим но справедливым
- Если нет признаков подделки - включай в passed_ids

ФОРМАТ ОТВЕТА (строго JSON):
{
    "passed_ids": [123, 456],
    "rejected": [
        {"avito_item_id": 789, "reason": "краткая причина отклонения"}
    ]
}
`

// AIValidator talks to the LLM endpoint. Only listings that already passed
// the mechanical stage may be submitted.
type AIValidator struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewAIValidator(apiKey string) *AIValidator {
	return &AIValidator{
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		model:   geminiModel,
		client:  &http.Client{Timeout: aiRequestTimeout},
	}
}

// NewAIValidatorWithEndpoint overrides the endpoint. Used by tests.
func NewAIValidatorWithEndpoint(apiKey, baseURL string) *AIValidator {
	v := NewAIValidator(apiKey)
	v.baseURL = baseURL
	return v
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// verdict is the JSON the model is instructed to return.
type verdict struct {
	PassedIDs []int64 `json:"passed_ids"`
	Rejected  []struct {
		AvitoItemID int64  `json:"avito_item_id"`
		Reason      string `json:"reason"`
	} `json:"rejected"`
}

// Validate submits the listings and composes per-listing results mirroring
// the mechanical stage's shape. A malformed model response degrades to
// all-passed with a fallback marker; a timeout propagates so the enclosing
// task can retry.
func (v *AIValidator) Validate(ctx context.Context, listings []avito.Listing, article string) (map[int64]Result, error) {
	if len(listings) == 0 {
		return map[int64]Result{}, nil
	}
	if v.apiKey == "" {
		return nil, fmt.Errorf("ai validation: api key not configured")
	}

	reqBody := chatRequest{
		Model: v.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: formatListings(listings, article)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    0.3,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ai validation: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, aiRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(v.baseURL, "/")+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("ai validation: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai validation request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai validation: endpoint returned %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("ai validation: decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("ai validation: empty choices in response")
	}

	var ver verdict
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &ver); err != nil {
		// The model broke its JSON contract. Do not fail the task: everything
		// that reached this stage already passed mechanical validation.
		return allPassedFallback(listings), nil
	}

	results := make(map[int64]Result, len(listings))
	for _, id := range ver.PassedIDs {
		results[id] = Result{
			Passed:  true,
			Details: map[string]any{"stage": "ai", "decision": "passed"},
		}
	}
	for _, r := range ver.Rejected {
		if r.AvitoItemID == 0 {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = "AI rejection"
		}
		results[r.AvitoItemID] = Result{
			Passed:          false,
			RejectionReason: reason,
			Details: map[string]any{
				"stage":        "ai",
				"decision":     "rejected",
				"model_reason": reason,
			},
		}
	}
	return results, nil
}

func allPassedFallback(listings []avito.Listing) map[int64]Result {
	results := make(map[int64]Result, len(listings))
	for _, l := range listings {
		if l.AvitoItemID == 0 {
			continue
		}
		results[l.AvitoItemID] = Result{
			Passed: true,
			Details: map[string]any{
				"stage":    "ai",
				"decision": "passed",
				"fallback": "json_decode_error",
			},
		}
	}
	return results
}

// formatListings renders the user prompt: the article, a price reference
// line (top-20% mean and its 70% threshold), then every listing.
func formatListings(listings []avito.Listing, article string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Артикул: %s\n\n", article)

	var prices []float64
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, l.Price)
		}
	}
	if len(prices) > 0 {
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
		topCount := len(prices) / 5
		if topCount < 1 {
			topCount = 1
		}
		var sum float64
		for _, p := range prices[:topCount] {
			sum += p
		}
		avg := sum / float64(topCount)
		fmt.Fprintf(&b, "ЦЕНОВОЙ ОРИЕНТИР: топ-20%% среднее = %.2f₽, порог 70%% = %.2f₽\n\n", avg, avg*0.7)
	}

	for _, l := range listings {
		fmt.Fprintf(&b, "ID: %d\n", l.AvitoItemID)
		fmt.Fprintf(&b, "Название: %s\n", orNA(l.Title))
		fmt.Fprintf(&b, "Описание: %s\n", orNA(l.Description))
		fmt.Fprintf(&b, "Цена: %.0f₽\n\n", l.Price)
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
