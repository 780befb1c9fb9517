// Package script はLLMによるショート動画スクリプト生成を提供する。
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message はLLMへ渡すチャットメッセージ。
type Message struct {
	Role    string
	Content string
}

// Generator はチャット形式のLLMバックエンドを抽象化する。
// formatJSONがtrueの場合、バックエンドはJSONオブジェクトのみを返すよう制約する。
type Generator interface {
	Chat(ctx context.Context, messages []Message, formatJSON bool) (string, error)
	Name() string
}

// OpenAIGenerator はOpenAI Chat Completions APIを使うバックエンド。
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator はOpenAIGeneratorを生成する。
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Name はメトリクスラベル用のバックエンド名を返す。
func (g *OpenAIGenerator) Name() string { return "openai" }

// Chat はChat Completions APIを呼び出し、アシスタントの応答本文を返す。
func (g *OpenAIGenerator) Chat(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if formatJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// OllamaGenerator はローカルOllamaの /api/chat を使うバックエンド。
type OllamaGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator はOllamaGeneratorを生成する。
func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	return &OllamaGenerator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Name はメトリクスラベル用のバックエンド名を返す。
func (g *OllamaGenerator) Name() string { return "ollama" }

// Chat は /api/chat へ非ストリーミングで問い合わせる。
func (g *OllamaGenerator) Chat(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
	type chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
		Format   string        `json:"format,omitempty"`
	}{
		Model:  g.model,
		Stream: false,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if formatJSON {
		reqBody.Format = "json"
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return result.Message.Content, nil
}
