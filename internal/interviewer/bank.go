// Package interviewer provides the question source, response evaluator and
// feedback synthesizer used by live sessions. Each works without a language
// model and uses one when configured.
package interviewer

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/interviewd/internal/session"
)

//go:embed bank.yaml
var defaultBank []byte

// BankQuestion is one entry of the question bank.
type BankQuestion struct {
	Text       string             `yaml:"text"`
	Category   string             `yaml:"category"`
	Difficulty session.Difficulty `yaml:"difficulty"`
	// Levels restricts the question to these experience levels. Empty means
	// any level.
	Levels []string `yaml:"levels,omitempty"`
	Tags   []string `yaml:"tags,omitempty"`
}

// Bank is a curated set of questions.
type Bank struct {
	Questions []BankQuestion `yaml:"questions"`
}

// LoadBank reads a YAML bank from path, or the built-in bank when path is
// empty.
func LoadBank(path string) (*Bank, error) {
	if path == "" {
		return ParseBank(defaultBank)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading question bank %s: %w", path, err)
	}
	return ParseBank(data)
}

// ParseBank decodes and validates a YAML bank.
func ParseBank(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing question bank: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("validating question bank: %w", err)
	}
	return &b, nil
}

var knownCategories = []string{"behavioral", "technical", "system_design", "coding", "resume_based"}

func (b *Bank) validate() error {
	if len(b.Questions) == 0 {
		return errors.New("bank has no questions")
	}
	var errs []error
	for i, q := range b.Questions {
		if strings.TrimSpace(q.Text) == "" {
			errs = append(errs, fmt.Errorf("question %d has no text", i))
		}
		if !slices.Contains(knownCategories, q.Category) {
			errs = append(errs, fmt.Errorf("question %d has unknown category %q", i, q.Category))
		}
		if difficultyRank(q.Difficulty) < 0 {
			errs = append(errs, fmt.Errorf("question %d has unknown difficulty %q", i, q.Difficulty))
		}
	}
	return errors.Join(errs...)
}

// Plan orders the questions that suit cfg. Questions matching the tech stack
// or focus areas come first, then those closest to the target difficulty.
func (b *Bank) Plan(cfg session.Config) []session.Question {
	cats := categoriesFor(cfg.Kind)
	target := levelDifficulty(cfg.ExperienceLevel)
	tags := lowerSet(append(slices.Clone(cfg.TechStack), cfg.FocusAreas...))

	byCat := make(map[string][]rankedQuestion, len(cats))
	for _, q := range b.Questions {
		if !slices.Contains(cats, q.Category) {
			continue
		}
		if len(q.Levels) > 0 && !slices.Contains(q.Levels, cfg.ExperienceLevel) {
			continue
		}
		byCat[q.Category] = append(byCat[q.Category], rankedQuestion{
			q:    q,
			rank: tagOverlap(q.Tags, tags)*10 - abs(difficultyRank(q.Difficulty)-target),
		})
	}
	for _, list := range byCat {
		sort.SliceStable(list, func(i, j int) bool { return list[i].rank > list[j].rank })
	}

	var plan []session.Question
	if cfg.Kind == session.KindMixed {
		// Round-robin so every category shows up early.
		for more := true; more; {
			more = false
			for _, c := range cats {
				if len(byCat[c]) == 0 {
					continue
				}
				plan = append(plan, byCat[c][0].toQuestion())
				byCat[c] = byCat[c][1:]
				more = true
			}
		}
		return plan
	}
	for _, c := range cats {
		for _, rq := range byCat[c] {
			plan = append(plan, rq.toQuestion())
		}
	}
	return plan
}

type rankedQuestion struct {
	q    BankQuestion
	rank int
}

func (r rankedQuestion) toQuestion() session.Question {
	return session.Question{Text: r.q.Text, Category: r.q.Category, Difficulty: r.q.Difficulty}
}

func categoriesFor(kind session.Kind) []string {
	switch kind {
	case session.KindBehavioral:
		return []string{"behavioral"}
	case session.KindTechnical:
		return []string{"technical", "coding"}
	case session.KindSystemDesign:
		return []string{"system_design", "technical"}
	case session.KindCoding:
		return []string{"coding", "technical"}
	case session.KindResumeBased:
		return []string{"resume_based", "behavioral"}
	default:
		return []string{"behavioral", "technical", "system_design", "coding"}
	}
}

func difficultyRank(d session.Difficulty) int {
	switch d {
	case session.DifficultyEasy:
		return 0
	case session.DifficultyMedium:
		return 1
	case session.DifficultyHard:
		return 2
	case session.DifficultyExpert:
		return 3
	default:
		return -1
	}
}

func levelDifficulty(level string) int {
	switch strings.ToLower(level) {
	case "entry", "junior":
		return 0
	case "senior":
		return 2
	case "staff", "principal":
		return 3
	default:
		return 1
	}
}

func lowerSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.ToLower(strings.TrimSpace(it)); it != "" {
			m[it] = true
		}
	}
	return m
}

func tagOverlap(tags []string, want map[string]bool) int {
	n := 0
	for _, t := range tags {
		if want[strings.ToLower(t)] {
			n++
		}
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
