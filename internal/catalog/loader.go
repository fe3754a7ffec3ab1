package catalog

import (
	"embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dungeon-server/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var defaultData embed.FS

// Catalogs - набор неизменяемых каталогов, разделяемых всем процессом.
type Catalogs struct {
	Monsters  *MonsterCatalog
	Rewards   *RewardCatalog
	Scenarios *ScenarioCatalog
}

// LoadDefault загружает каталоги, встроенные в бинарник.
func LoadDefault() (*Catalogs, error) {
	read := func(name string) ([]byte, error) {
		return defaultData.ReadFile("data/" + name)
	}
	return load(read)
}

// LoadFromDir загружает каталоги из директории (monsters.yaml, rewards.yaml, scenarios.yaml).
func LoadFromDir(dir string) (*Catalogs, error) {
	read := func(name string) ([]byte, error) {
		return os.ReadFile(strings.TrimSuffix(dir, "/") + "/" + name)
	}
	return load(read)
}

func load(read func(string) ([]byte, error)) (*Catalogs, error) {
	monsterData, err := read("monsters.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read monsters catalog: %w", err)
	}
	monsters, err := LoadMonstersFromYAML(monsterData)
	if err != nil {
		return nil, err
	}

	rewardData, err := read("rewards.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read rewards catalog: %w", err)
	}
	rewards, err := LoadRewardsFromYAML(rewardData)
	if err != nil {
		return nil, err
	}

	scenarioData, err := read("scenarios.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios catalog: %w", err)
	}
	scenarios, err := LoadScenariosFromYAML(scenarioData)
	if err != nil {
		return nil, err
	}

	return &Catalogs{Monsters: monsters, Rewards: rewards, Scenarios: scenarios}, nil
}

// yamlMonster - представление монстра в YAML (ключевые слова как id или имена).
type yamlMonster struct {
	MonsterID   int         `yaml:"monster_id"`
	Name        string      `yaml:"name"`
	MonsterType int         `yaml:"monster_type"`
	HP          float64     `yaml:"hp"`
	Speed       float64     `yaml:"speed"`
	Attack      float64     `yaml:"attack"`
	AttackSpeed float64     `yaml:"attack_speed"`
	AttackRange float64     `yaml:"attack_range"`
	StaggerGage float64     `yaml:"stagger_gage"`
	Weaknesses  []yaml.Node `yaml:"weaknesses"`
	Strengths   []yaml.Node `yaml:"strengths"`
}

type monstersFile struct {
	Monsters []yamlMonster `yaml:"monsters"`
}

// LoadMonstersFromYAML разбирает каталог монстров.
func LoadMonstersFromYAML(data []byte) (*MonsterCatalog, error) {
	var file monstersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse monsters YAML: %w", err)
	}
	records := make([]models.MonsterRecord, 0, len(file.Monsters))
	for _, m := range file.Monsters {
		weak, err := keywordsFromNodes(m.Weaknesses)
		if err != nil {
			return nil, fmt.Errorf("monster %d weaknesses: %w", m.MonsterID, err)
		}
		strong, err := keywordsFromNodes(m.Strengths)
		if err != nil {
			return nil, fmt.Errorf("monster %d strengths: %w", m.MonsterID, err)
		}
		records = append(records, models.MonsterRecord{
			MonsterID:   m.MonsterID,
			Name:        m.Name,
			MonsterType: models.MonsterType(m.MonsterType),
			HP:          m.HP,
			Speed:       m.Speed,
			Attack:      m.Attack,
			AttackSpeed: m.AttackSpeed,
			AttackRange: m.AttackRange,
			StaggerGage: m.StaggerGage,
			Weaknesses:  weak,
			Strengths:   strong,
		})
	}
	return NewMonsterCatalog(records)
}

// keywordsFromNodes переводит смешанный список id/имен в набор тегов.
func keywordsFromNodes(nodes []yaml.Node) (models.KeywordSet, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	out := make(models.KeywordSet, 0, len(nodes))
	for _, n := range nodes {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("keyword must be a scalar, got %q", n.Value)
		}
		if id, err := strconv.Atoi(n.Value); err == nil {
			tag, ok := models.KeywordByID(id)
			if !ok {
				return nil, fmt.Errorf("unknown keyword id %d", id)
			}
			out = append(out, string(tag))
			continue
		}
		tag := strings.ToLower(strings.TrimSpace(n.Value))
		if !models.IsKnownKeyword(tag) {
			return nil, fmt.Errorf("unknown keyword %q", tag)
		}
		out = append(out, tag)
	}
	return out, nil
}

type yamlRewardEntry struct {
	ID          string  `yaml:"id"`
	Description string  `yaml:"description"`
	MonsterIDs  []int   `yaml:"monster_ids"`
	ItemType    string  `yaml:"item_type"`
	ItemID      int     `yaml:"item_id"`
	Stat        string  `yaml:"stat"`
	Value       float64 `yaml:"value"`
	Duration    int     `yaml:"duration"`
	Target      string  `yaml:"target"`
}

type yamlRewardPools struct {
	SpawnMonster []yamlRewardEntry `yaml:"spawn_monster"`
	DropItem     []yamlRewardEntry `yaml:"drop_item"`
	ChangeStat   []yamlRewardEntry `yaml:"change_stat"`
}

type rewardsFile struct {
	Rewards   yamlRewardPools `yaml:"rewards"`
	Penalties yamlRewardPools `yaml:"penalties"`
}

// LoadRewardsFromYAML разбирает пулы наград и штрафов.
func LoadRewardsFromYAML(data []byte) (*RewardCatalog, error) {
	var file rewardsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rewards YAML: %w", err)
	}
	var entries []RewardEntry
	entries = append(entries, convertPools(file.Rewards, false)...)
	entries = append(entries, convertPools(file.Penalties, true)...)
	return NewRewardCatalog(entries)
}

func convertPools(p yamlRewardPools, penalty bool) []RewardEntry {
	var out []RewardEntry
	conv := func(list []yamlRewardEntry, t EntryType) {
		for _, e := range list {
			target := e.Target
			if target == "" {
				target = TargetAll
			}
			out = append(out, RewardEntry{
				ID:          e.ID,
				Type:        t,
				Description: e.Description,
				MonsterIDs:  append([]int{}, e.MonsterIDs...),
				ItemType:    e.ItemType,
				ItemID:      e.ItemID,
				StatName:    e.Stat,
				Value:       e.Value,
				Duration:    e.Duration,
				Target:      target,
				IsPenalty:   penalty,
			})
		}
	}
	conv(p.SpawnMonster, EntrySpawnMonster)
	conv(p.DropItem, EntryDropItem)
	conv(p.ChangeStat, EntryChangeStat)
	return out
}

type scenariosFile struct {
	MainEvents []models.MainEvent      `yaml:"main_events"`
	Memories   []models.MemoryScenario `yaml:"memories"`
}

// LoadScenariosFromYAML разбирает основные события и воспоминания героинь.
func LoadScenariosFromYAML(data []byte) (*ScenarioCatalog, error) {
	var file scenariosFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios YAML: %w", err)
	}
	return NewScenarioCatalog(file.MainEvents, file.Memories)
}
