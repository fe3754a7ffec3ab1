package ai

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// defaultEncoding используется, если для модели нет своей кодировки (например, модели OpenRouter).
const defaultEncoding = "cl100k_base"

// TokenCounter оценивает число токенов в тексте.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter - грубая оценка (4 символа на токен), не требует словарей BPE.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// NewTokenCounter возвращает счетчик tiktoken для модели.
// Если словарь недоступен, используется ApproxCounter.
func NewTokenCounter(model string, logger *zap.Logger) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
	}
	if err != nil {
		logger.Warn("Tokenizer unavailable, using approximate token counts", zap.String("model", model), zap.Error(err))
		return ApproxCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

// FitToBudget оставляет тексты по порядку, пока суммарное число токенов не превысит budget.
// budget <= 0 снимает ограничение.
func FitToBudget(counter TokenCounter, texts []string, budget int) []string {
	if budget <= 0 {
		return texts
	}
	var (
		out   []string
		spent int
	)
	for _, t := range texts {
		n := counter.Count(t)
		if spent+n > budget {
			break
		}
		out = append(out, t)
		spent += n
	}
	return out
}
