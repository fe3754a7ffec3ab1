package repository_test

import (
	"testing"

	"dungeon-server/internal/models"
	"dungeon-server/internal/repository"

	"github.com/stretchr/testify/assert"
)

func TestBuildSummary(t *testing.T) {
	balanced := happyPathMap([]int{0, 1}, []int{1, 2})
	balanced.Rooms[1].Monsters = []int{0, 1, 2}
	events := &models.FloorEvents{Floor: 3, Events: []models.Event{
		{RoomID: 2, Title: "버려진 제단"},
		{RoomID: 4, Title: "기억의 거울", IsPersonal: true},
	}}
	digest := &models.AgentDigest{Difficulty: &models.DifficultyLog{
		CombatScore: 52, DifficultyMultiplier: 1.2, TargetThreat: 62.4, ActualThreat: 59.28,
		Reasoning: "LLM fallback", Warnings: []string{"no bosses"},
	}}

	summary := repository.BuildSummary(3, balanced, events, digest)
	assert.Contains(t, summary, "[3층 요약]")
	assert.Contains(t, summary, "방 구성: 빈 방 1, 전투 1, 이벤트 1, 보스 1 (총 4개)")
	assert.Contains(t, summary, "몬스터: 4마리 (일반 3, 보스 1), 전투 방 배치율 100%")
	assert.Contains(t, summary, "목표 위협 62.4, 실제 위협 59.3 (달성률 95%)")
	assert.Contains(t, summary, "전략: LLM fallback")
	assert.Contains(t, summary, "경고: no bosses")
	assert.Contains(t, summary, "이벤트: 버려진 제단, 기억의 거울(개인)")

	// Без дайджеста и событий остается только состав этажа
	bare := repository.BuildSummary(1, balanced, nil, nil)
	assert.NotContains(t, bare, "난이도")
	assert.NotContains(t, bare, "이벤트:")
}
