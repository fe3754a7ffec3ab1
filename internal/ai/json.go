package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON разбирает JSON-ответ модели. Markdown-ограждения ``` и текст вокруг объекта отбрасываются.
func DecodeJSON(text string, v any) error {
	body := ExtractJSONObject(text)
	if body == "" {
		return fmt.Errorf("%w: ответ не содержит JSON-объекта", ErrAIGenerationFailed)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: некорректный JSON: %v", ErrAIGenerationFailed, err)
	}
	return nil
}

// ExtractJSONObject возвращает подстроку от первой '{' до последней '}'.
func ExtractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
