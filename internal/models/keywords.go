package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// KeywordTag - внутренний тег боевого стиля. Используется только для расчета сродства,
// игрокам не показывается.
type KeywordTag string

// keywordTags - фиксированное соответствие id -> тег (0..19).
var keywordTags = [...]KeywordTag{
	0:  "armor_heavy",
	1:  "armor_light",
	2:  "magic_resist",
	3:  "evasive",
	4:  "fast_attack",
	5:  "slow_attack",
	6:  "fast_move",
	7:  "slow_move",
	8:  "strong_hit",
	9:  "many_hits",
	10: "melee",
	11: "ranged_short",
	12: "ranged_long",
	13: "area_attack",
	14: "piercing",
	15: "blunt",
	16: "slash",
	17: "magic",
	18: "critical",
	19: "regeneration",
}

// KeywordByID возвращает тег по id.
func KeywordByID(id int) (KeywordTag, bool) {
	if id < 0 || id >= len(keywordTags) {
		return "", false
	}
	return keywordTags[id], true
}

// IsKnownKeyword сообщает, входит ли тег в таблицу.
func IsKnownKeyword(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, k := range keywordTags {
		if string(k) == tag {
			return true
		}
	}
	return false
}

// AllKeywords возвращает все теги в порядке id.
func AllKeywords() []KeywordTag {
	out := make([]KeywordTag, len(keywordTags))
	copy(out, keywordTags[:])
	return out
}

// KeywordSet - набор тегов. В JSON принимает как id (числа), так и строки.
// Неизвестные id пропускаются, строки сохраняются как есть (в нижнем регистре).
type KeywordSet []string

// UnmarshalJSON разбирает смешанный список id/строк.
func (s *KeywordSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: keywords must be a list: %v", ErrInvalidInput, err)
	}
	out := make(KeywordSet, 0, len(raw))
	for _, item := range raw {
		var id int
		if err := json.Unmarshal(item, &id); err == nil {
			if tag, ok := KeywordByID(id); ok {
				out = append(out, string(tag))
			}
			continue
		}
		var tag string
		if err := json.Unmarshal(item, &tag); err != nil {
			return fmt.Errorf("%w: keyword %s", ErrInvalidInput, string(item))
		}
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			out = append(out, tag)
		}
	}
	*s = out
	return nil
}

// Contains проверяет точное совпадение тега.
func (s KeywordSet) Contains(tag string) bool {
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// Intersects сообщает, есть ли общий тег у двух наборов.
func (s KeywordSet) Intersects(other KeywordSet) bool {
	for _, t := range s {
		if other.Contains(t) {
			return true
		}
	}
	return false
}

// HasSubstring - регистронезависимый поиск подстроки по тегам.
func (s KeywordSet) HasSubstring(needles ...string) bool {
	for _, t := range s {
		lt := strings.ToLower(t)
		for _, n := range needles {
			if strings.Contains(lt, strings.ToLower(n)) {
				return true
			}
		}
	}
	return false
}
