package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// DefaultDuration は動画尺が未指定の場合の秒数。
const DefaultDuration = 60

// formatInstructions はスクリプト構成フォーマットごとの指示文。
var formatInstructions = map[string]string{
	"mistakes":    `Structure as "3 mistakes" format. Start with common mistakes people make, then reveal the right way.`,
	"myth":        `Structure as "Myth vs Truth" format. Debunk a common misconception with the real truth.`,
	"dothis":      `Structure as "Do this, NOT that" format. Show contrast between wrong and right approach.`,
	"story":       `Structure as a "Storytime" format. Tell a compelling personal story or case study.`,
	"pov":         `Structure as a "POV skit" format. Use point-of-view perspective, make it relatable and entertaining.`,
	"beforeafter": `Structure as "Before/After" format. Show transformation or results clearly.`,
	"general":     `Use the most engaging format for this topic.`,
}

// stylePrompts はフック改変スタイルごとの指示文。
var stylePrompts = map[string]string{
	"controversial": "Make this hook MORE controversial and debate-sparking. Push boundaries while staying authentic.",
	"shorter":       "Make this hook SHORTER and more punchy. Cut it down to 5-8 words maximum.",
	"emotional":     "Make this hook MORE emotional and relatable. Touch hearts, create empathy.",
	"premium":       "Make this hook sound MORE premium and aspirational. Appeal to high-achievers.",
	"curiosity":     "Make this hook MORE curiosity-driven. Create an irresistible knowledge gap.",
	"lessSalesy":    "Make this hook LESS salesy and more authentic. Sound like a friend sharing advice.",
}

const defaultStylePrompt = "Improve this hook while keeping the same intent."

// Sanitizer はLLM出力からHTML等を除去するインターフェース。
type Sanitizer interface {
	Sanitize(s string) string
}

// GenerationRecorder は生成メトリクスの記録インターフェース。
type GenerationRecorder interface {
	RecordGeneration(backend, status string, duration time.Duration)
}

// Service はスクリプト生成とフック改変のビジネスロジックを提供する。
// generatorがnilの場合は縮退モードとなり、各操作はLLM未設定エラーを返す。
type Service struct {
	generator Generator
	sanitizer Sanitizer
	metrics   GenerationRecorder
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(generator Generator, sanitizer Sanitizer, metrics GenerationRecorder) *Service {
	return &Service{
		generator: generator,
		sanitizer: sanitizer,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Configured はLLMバックエンドが設定されているかを返す。
func (s *Service) Configured() bool {
	return s.generator != nil
}

// GenerateScript はトピックからスクリプト一式を生成する。
// durationが0以下の場合は既定の60秒、formatが未知の場合はgeneralとして扱う。
func (s *Service) GenerateScript(ctx context.Context, topic string, duration int, format string) (*model.Script, error) {
	if s.generator == nil {
		return nil, model.NewLLMNotConfiguredError()
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	instruction, ok := formatInstructions[format]
	if !ok {
		instruction = formatInstructions["general"]
	}

	systemPrompt := fmt.Sprintf(`You are an expert short-form video script writer specializing in viral TikTok and Instagram Reels content. Your scripts are engaging, hook-driven, and optimized for %d-second videos.

%s

Generate a complete video script package including:
1. 5 different hook variations (first 3 seconds that grab attention)
2. Scene-by-scene script breakdown with voiceover text
3. On-screen text suggestions for each scene
4. B-roll shot ideas
5. A strong call-to-action
6. An engaging caption with hashtags

Make the content punchy, authentic, and designed to stop the scroll.`, duration, instruction)

	userPrompt := fmt.Sprintf(`Create a %d-second video script about: %s

Return the response in this exact JSON structure (no markdown, no code block):
{
  "topic": %s,
  "hooks": ["hook1", "hook2", "hook3", "hook4", "hook5"],
  "script": [
    {
      "text": "voiceover text for this scene",
      "onScreenText": "text overlay for this scene"
    }
  ],
  "broll": ["b-roll idea 1", "b-roll idea 2", "b-roll idea 3"],
  "cta": "call to action text",
  "caption": "engaging caption with hashtags"
}`, duration, topic, jsonQuote(topic))

	start := s.now()
	content, err := s.generator.Chat(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}, true)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.metrics.RecordGeneration(s.generator.Name(), "error", elapsed)
		slog.Error("script generation failed",
			slog.String("backend", s.generator.Name()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError()
	}

	result, err := parseScript(content)
	if err != nil {
		s.metrics.RecordGeneration(s.generator.Name(), "invalid_shape", elapsed)
		slog.Error("script generation returned invalid shape",
			slog.String("backend", s.generator.Name()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError()
	}
	s.sanitizeScript(result)

	s.metrics.RecordGeneration(s.generator.Name(), "success", elapsed)
	slog.Info("script generated",
		slog.String("backend", s.generator.Name()),
		slog.Int("hooks", len(result.Hooks)),
		slog.Int("scenes", len(result.Script)),
		slog.Duration("elapsed", elapsed),
	)
	return result, nil
}

// RemixHook は既存フックをスタイル指示に従って書き直す。
// 未知のスタイルは「意図を保ったまま改善」として扱う。
func (s *Service) RemixHook(ctx context.Context, hook, style, topic string) (string, error) {
	if s.generator == nil {
		return "", model.NewLLMNotConfiguredError()
	}

	stylePrompt, ok := stylePrompts[style]
	if !ok {
		stylePrompt = defaultStylePrompt
	}

	systemPrompt := fmt.Sprintf(`You are an expert short-form video hook writer. Your job is to take an existing hook and remix it according to a specific style direction.

Original hook: "%s"
Topic context: "%s"
Style direction: %s

Return ONLY the remixed hook text, nothing else. Keep it concise and powerful.`, hook, topic, stylePrompt)

	start := s.now()
	content, err := s.generator.Chat(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Remix the hook now."},
	}, false)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.metrics.RecordGeneration(s.generator.Name(), "error", elapsed)
		slog.Error("hook remix failed",
			slog.String("backend", s.generator.Name()),
			slog.String("error", err.Error()),
		)
		return "", model.NewGenerationFailedError()
	}

	remixed := strings.TrimSpace(content)
	if remixed == "" {
		remixed = hook
	}
	if s.sanitizer != nil {
		remixed = s.sanitizer.Sanitize(remixed)
	}
	s.metrics.RecordGeneration(s.generator.Name(), "success", elapsed)
	return remixed, nil
}

var codeFenceOpen = regexp.MustCompile("(?i)^```(?:json)?\\s*")
var codeFenceClose = regexp.MustCompile("\\s*```$")

// parseScript はLLM出力をパースし、スクリプトの形を検証する。
// モデルが指示を無視してコードブロックで囲んだ場合もフェンスを剥がして受け入れる。
func parseScript(content string) (*model.Script, error) {
	raw := strings.TrimSpace(content)
	if raw == "" {
		return nil, fmt.Errorf("empty response")
	}
	raw = codeFenceOpen.ReplaceAllString(raw, "")
	raw = codeFenceClose.ReplaceAllString(raw, "")
	raw = strings.TrimSpace(raw)

	var result model.Script
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("response is not valid json: %w", err)
	}
	if result.Topic == "" || len(result.Hooks) == 0 || len(result.Script) == 0 {
		return nil, fmt.Errorf("response is missing required script fields")
	}
	return &result, nil
}

// sanitizeScript は生成結果の全テキストフィールドからHTMLを除去する。
func (s *Service) sanitizeScript(sc *model.Script) {
	if s.sanitizer == nil {
		return
	}
	sc.Topic = s.sanitizer.Sanitize(sc.Topic)
	for i := range sc.Hooks {
		sc.Hooks[i] = s.sanitizer.Sanitize(sc.Hooks[i])
	}
	for i := range sc.Script {
		sc.Script[i].Text = s.sanitizer.Sanitize(sc.Script[i].Text)
		sc.Script[i].OnScreenText = s.sanitizer.Sanitize(sc.Script[i].OnScreenText)
	}
	for i := range sc.Broll {
		sc.Broll[i] = s.sanitizer.Sanitize(sc.Broll[i])
	}
	sc.CTA = s.sanitizer.Sanitize(sc.CTA)
	sc.Caption = s.sanitizer.Sanitize(sc.Caption)
}

// jsonQuote は文字列をJSON文字列リテラルへエスケープする。
func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
