package event

import (
	"regexp"
	"strings"

	"dungeon-server/internal/catalog"
	"dungeon-server/internal/models"
)

var (
	// Маркеры сегментов: "1.", "2)", "-", "*", "•" в начале строки или после пробела.
	segmentMarker = regexp.MustCompile(`(?:^|\s)(?:\d+[.)]|[-*•])\s+`)
	// id-подобные токены из словаря наград/штрафов.
	outcomeToken = regexp.MustCompile(`(?i)\b(?:drop|spawn|pen|penalty|hp|atk)_[a-z0-9_]+\b`)
)

var penaltyHints = []string{"cursed", "pen_", "penalty", "down"}

// SplitOutcome делит expected_outcome на нумерованные/маркированные сегменты.
// Текст без маркеров считается одним сегментом. Текст перед первым маркером
// (заголовок вроде "결과:") отбрасывается, чтобы индексы совпадали с вариантами.
func SplitOutcome(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	locs := segmentMarker.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	segments := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segments = append(segments, strings.TrimSpace(text[loc[1]:end]))
	}
	return segments
}

// ExtractTokens возвращает id-подобные токены сегмента в нижнем регистре.
func ExtractTokens(segment string) []string {
	found := outcomeToken.FindAllString(segment, -1)
	out := make([]string, 0, len(found))
	for _, tok := range found {
		out = append(out, strings.ToLower(tok))
	}
	return out
}

// ClassifyTokens делит токены на награды и штрафы.
func ClassifyTokens(tokens []string) (rewards, penalties []string) {
	for _, tok := range tokens {
		if isPenaltyToken(tok) {
			penalties = append(penalties, tok)
		} else {
			rewards = append(rewards, tok)
		}
	}
	return rewards, penalties
}

func isPenaltyToken(tok string) bool {
	for _, h := range penaltyHints {
		if strings.Contains(tok, h) {
			return true
		}
	}
	return false
}

// OutcomeForChoice разбирает сегмент, относящийся к варианту index.
// ok=false, если в сегменте нет ни одного токена.
func OutcomeForChoice(rewards *catalog.RewardCatalog, expectedOutcome string, index int) (reward, penalty *models.ClientPayload, ok bool) {
	segments := SplitOutcome(expectedOutcome)
	if index < 0 || index >= len(segments) {
		return nil, nil, false
	}
	rewardTokens, penaltyTokens := ClassifyTokens(ExtractTokens(segments[index]))
	if len(rewardTokens) == 0 && len(penaltyTokens) == 0 {
		return nil, nil, false
	}
	return tokensPayload(rewards, rewardTokens), tokensPayload(rewards, penaltyTokens), true
}

func tokensPayload(rewards *catalog.RewardCatalog, tokens []string) *models.ClientPayload {
	switch len(tokens) {
	case 0:
		return nil
	case 1:
		return rewards.Normalise(tokens[0])
	}
	parts := make([]models.ClientPayload, 0, len(tokens))
	for _, tok := range tokens {
		if p := rewards.Normalise(tok); p != nil {
			parts = append(parts, *p)
		}
	}
	p := models.CompositePayload(parts...)
	return &p
}
