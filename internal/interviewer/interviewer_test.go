package interviewer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kalambet/interviewd/internal/llm"
	"github.com/kalambet/interviewd/internal/session"
)

type mockChatter struct {
	calls  int
	last   []llm.Message
	chatFn func(messages []llm.Message) (string, error)
}

func (m *mockChatter) Chat(_ context.Context, _ string, messages []llm.Message, _ *llm.Schema) (string, error) {
	m.calls++
	m.last = messages
	return m.chatFn(messages)
}

func defaultBankT(t *testing.T) *Bank {
	t.Helper()
	b, err := LoadBank("")
	if err != nil {
		t.Fatalf("LoadBank(default): %v", err)
	}
	return b
}

func TestLoadBank_Default(t *testing.T) {
	b := defaultBankT(t)
	seen := map[string]bool{}
	for _, q := range b.Questions {
		seen[q.Category] = true
	}
	for _, c := range knownCategories {
		if !seen[c] {
			t.Errorf("default bank has no %s questions", c)
		}
	}
}

func TestLoadBank_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	data := "questions:\n  - text: Why Go?\n    category: technical\n    difficulty: easy\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBank(path)
	if err != nil {
		t.Fatalf("LoadBank: %v", err)
	}
	if len(b.Questions) != 1 || b.Questions[0].Text != "Why Go?" {
		t.Errorf("Questions = %+v", b.Questions)
	}
}

func TestParseBank_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":          "questions: []\n",
		"bad category":   "questions:\n  - text: x\n    category: poetry\n    difficulty: easy\n",
		"bad difficulty": "questions:\n  - text: x\n    category: coding\n    difficulty: impossible\n",
		"no text":        "questions:\n  - category: coding\n    difficulty: easy\n",
		"not yaml":       "questions: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseBank([]byte(data)); err == nil {
				t.Error("ParseBank succeeded, want error")
			}
		})
	}
}

func TestPlan_KindSelectsCategories(t *testing.T) {
	b := defaultBankT(t)

	plan := b.Plan(session.Config{Kind: session.KindBehavioral, ExperienceLevel: "mid"})
	if len(plan) == 0 {
		t.Fatal("empty behavioral plan")
	}
	for _, q := range plan {
		if q.Category != "behavioral" {
			t.Errorf("behavioral plan contains %s question %q", q.Category, q.Text)
		}
	}

	mixed := b.Plan(session.Config{Kind: session.KindMixed, ExperienceLevel: "mid"})
	want := []string{"behavioral", "technical", "system_design", "coding"}
	for i, c := range want {
		if mixed[i].Category != c {
			t.Errorf("mixed[%d].Category = %q, want %q", i, mixed[i].Category, c)
		}
	}
}

func TestPlan_LevelsAndTags(t *testing.T) {
	b := defaultBankT(t)

	entry := b.Plan(session.Config{Kind: session.KindBehavioral, ExperienceLevel: "entry"})
	for _, q := range entry {
		if q.Difficulty == session.DifficultyExpert {
			t.Errorf("entry plan contains staff-only question %q", q.Text)
		}
	}

	goPlan := b.Plan(session.Config{Kind: session.KindTechnical, ExperienceLevel: "mid", TechStack: []string{"Go"}})
	if !strings.Contains(goPlan[0].Text, "Go's scheduler") {
		t.Errorf("first technical question for a Go stack = %q, want the Go scheduler question", goPlan[0].Text)
	}
}

func TestQuestionSource_NextAndExhaustion(t *testing.T) {
	src := NewQuestionSource(defaultBankT(t), session.Config{Kind: session.KindSystemDesign, ExperienceLevel: "mid"}, nil, "")
	total := src.TotalAvailable()
	if total == 0 {
		t.Fatal("TotalAvailable = 0")
	}
	q, err := src.Next(context.Background(), 0, nil, session.CandidateProfile{})
	if err != nil || q == nil {
		t.Fatalf("Next(0) = %v, %v", q, err)
	}
	if q.Category != "system_design" {
		t.Errorf("first category = %q, want system_design", q.Category)
	}
	q, err = src.Next(context.Background(), total, nil, session.CandidateProfile{})
	if err != nil || q != nil {
		t.Errorf("Next(total) = %v, %v, want nil, nil", q, err)
	}
}

func TestQuestionSource_Personalised(t *testing.T) {
	chat := &mockChatter{chatFn: func([]llm.Message) (string, error) {
		return "```json\n{\"question\": \"Tell me about the payments rewrite you led.\"}\n```", nil
	}}
	src := NewQuestionSource(defaultBankT(t), session.Config{Kind: session.KindResumeBased, TargetRole: "SRE", ExperienceLevel: "senior"}, chat, "llama3.2")

	q, err := src.Next(context.Background(), 0, nil, session.CandidateProfile{ResumeDigest: "Led payments rewrite at Acme."})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if q.Text != "Tell me about the payments rewrite you led." {
		t.Errorf("Text = %q", q.Text)
	}
	if !strings.Contains(chat.last[1].Content, "Led payments rewrite") {
		t.Error("prompt does not include the resume digest")
	}
}

func TestQuestionSource_PersonalisationFailureKeepsPlan(t *testing.T) {
	chat := &mockChatter{chatFn: func([]llm.Message) (string, error) { return "", errors.New("boom") }}
	cfg := session.Config{Kind: session.KindBehavioral, ExperienceLevel: "mid"}
	src := NewQuestionSource(defaultBankT(t), cfg, chat, "m")
	want := defaultBankT(t).Plan(cfg)[0].Text

	q, err := src.Next(context.Background(), 0, nil, session.CandidateProfile{Skills: []string{"go"}})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if q.Text != want {
		t.Errorf("Text = %q, want planned %q", q.Text, want)
	}

	// Without any candidate context the model is not consulted.
	calls := chat.calls
	src.Next(context.Background(), 1, nil, session.CandidateProfile{})
	if chat.calls != calls {
		t.Errorf("model called %d times without context, want 0", chat.calls-calls)
	}
}

func TestEvaluator_Model(t *testing.T) {
	chat := &mockChatter{chatFn: func([]llm.Message) (string, error) {
		return `Here you go: {"score": 130, "strengths": ["clear"], "weaknesses": [], "specific_feedback": "Nice.", "suggestions": ["add metrics"]}`, nil
	}}
	e := NewEvaluator(chat, "m")
	res, err := e.Evaluate(context.Background(), session.QuestionRecord{Text: "Why?"}, "Because.", "technical",
		session.EvaluationContext{TargetRole: "SRE", ExperienceLevel: "mid", ResponsesSoFar: 1})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Score != 100 {
		t.Errorf("Score = %v, want clamped 100", res.Score)
	}
	if res.SpecificFeedback != "Nice." || len(res.Suggestions) != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestEvaluator_ModelErrors(t *testing.T) {
	for name, fn := range map[string]func([]llm.Message) (string, error){
		"chat error":  func([]llm.Message) (string, error) { return "", errors.New("down") },
		"unparseable": func([]llm.Message) (string, error) { return "I'd give it a seven", nil },
	} {
		t.Run(name, func(t *testing.T) {
			e := NewEvaluator(&mockChatter{chatFn: fn}, "m")
			if _, err := e.Evaluate(context.Background(), session.QuestionRecord{}, "x", "technical", session.EvaluationContext{}); err == nil {
				t.Error("Evaluate succeeded, want error")
			}
		})
	}
}

func TestEvaluator_Heuristic(t *testing.T) {
	e := NewEvaluator(nil, "")

	short, _ := e.Evaluate(context.Background(), session.QuestionRecord{}, "I don't know.", "technical", session.EvaluationContext{})
	long, _ := e.Evaluate(context.Background(), session.QuestionRecord{},
		strings.Repeat("We chose a queue because it decoupled producers, however the trade-off was latency. ", 6),
		"technical", session.EvaluationContext{})

	if short.Score >= long.Score {
		t.Errorf("short score %v >= long score %v", short.Score, long.Score)
	}
	if len(short.Weaknesses) == 0 {
		t.Error("short answer has no weaknesses")
	}
	if len(long.Strengths) < 2 {
		t.Errorf("long answer strengths = %v", long.Strengths)
	}
}

func TestSynthesizer_ForResponseTone(t *testing.T) {
	s := NewSynthesizer(nil, "")
	eval := session.EvaluationResult{Score: 65, Strengths: []string{"clear structure"}, Suggestions: []string{"Add numbers."}}

	early, _ := s.ForResponse(context.Background(), eval, true)
	later, _ := s.ForResponse(context.Background(), eval, false)

	if !strings.Contains(early, "might help to add numbers") {
		t.Errorf("early = %q", early)
	}
	if !strings.Contains(later, "One thing to tighten: add numbers") {
		t.Errorf("later = %q", later)
	}
	if !strings.Contains(early, "Clear structure.") {
		t.Errorf("early = %q, want capitalised strength", early)
	}
}

func TestSynthesizer_Final(t *testing.T) {
	qs := []session.QuestionRecord{{Index: 0, Text: "Q", Category: "technical"}}
	rs := []session.ResponseRecord{{QuestionIndex: 0, Text: "A", Category: "technical", Evaluation: &session.EvaluationResult{Score: 88}}}
	cfg := session.Config{Kind: session.KindTechnical, TargetRole: "SRE"}

	chat := &mockChatter{chatFn: func([]llm.Message) (string, error) {
		return `{"summary": "Solid fundamentals.", "strengths": ["depth"], "improvements": ["pace"]}`, nil
	}}
	fb, err := NewSynthesizer(chat, "m").Final(context.Background(), qs, rs, cfg, 20)
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if fb.Summary != "Solid fundamentals." || fb.Strengths[0] != "depth" {
		t.Errorf("fb = %+v", fb)
	}
	if fb.OverallRating != 88 || fb.Grade != "B" {
		t.Errorf("rating/grade = %v/%q, want 88/B", fb.OverallRating, fb.Grade)
	}

	failing := &mockChatter{chatFn: func([]llm.Message) (string, error) { return "", errors.New("down") }}
	fb, err = NewSynthesizer(failing, "m").Final(context.Background(), qs, rs, cfg, 20)
	if err != nil {
		t.Fatalf("Final with failing model: %v", err)
	}
	if !strings.Contains(fb.Summary, "1 of 1") {
		t.Errorf("Summary = %q, want aggregate summary", fb.Summary)
	}
}

func TestTruncate_KeepsRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"  short  ", 10, "short"},
		{"héllo wörld", 5, "héllo..."},
		{"日本語のテキスト", 3, "日本語..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}

func TestSentenceCase_MultiByteFirstRune(t *testing.T) {
	if got := sentence("élan shown."); got != "Élan shown" {
		t.Errorf("sentence = %q, want %q", got, "Élan shown")
	}
	if got := lowerFirst("Über"); got != "über" {
		t.Errorf("lowerFirst = %q, want %q", got, "über")
	}
}
