package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/interviewd/internal/llm"
	"github.com/kalambet/interviewd/internal/storage"
)

// JobType is the queue job type handled by Worker.
const JobType = "resume_digest"

const (
	maxDigestRunes = 600
	maxSkills      = 15
	maxPromptRunes = 8000
)

const digestSystemPrompt = `You read resumes for an interview coach. Summarise the candidate in at most five sentences: current role, years of experience, notable projects, and the technologies they know best. Then list their concrete technical skills. Your output must be ONLY a single JSON object: {"digest": "<text>", "skills": ["..."]}`

// JobStore abstracts the job queue and resume operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetResume(id string) (storage.Resume, error)
	CompleteResume(id, text, digest, skillsJSON string) error
	FailResume(id, msg string) error
}

// Uploader is the store side of Submit.
type Uploader interface {
	SaveResume(r storage.Resume) error
	EnqueueJob(job storage.Job) error
}

type digestPayload struct {
	ResumeID string `json:"resume_id"`
}

// Submit extracts the text of data, stores it as a pending resume and
// enqueues a digest job. It returns the new resume id.
func Submit(store Uploader, filename string, data []byte) (string, error) {
	text, err := ExtractText(data)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	if err := store.SaveResume(storage.Resume{
		ID:       id,
		Filename: filename,
		Text:     text,
		Status:   storage.ResumePending,
	}); err != nil {
		return "", fmt.Errorf("saving resume: %w", err)
	}

	payload, _ := json.Marshal(digestPayload{ResumeID: id})
	if err := store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}); err != nil {
		return "", fmt.Errorf("enqueueing digest job: %w", err)
	}
	return id, nil
}

// Worker builds digests for uploaded resumes from the SQLite job queue.
type Worker struct {
	store  JobStore
	chat   llm.Chatter
	model  string
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. chat may be nil, in which case digests are
// built locally. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, chat llm.Chatter, model string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		chat:   chat,
		model:  model,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("resume worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single digest job. It returns true if a
// job was processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("resume job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var payload digestPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	r, err := w.store.GetResume(payload.ResumeID)
	if err != nil {
		return fmt.Errorf("loading resume %s: %w", payload.ResumeID, err)
	}
	if strings.TrimSpace(r.Text) == "" {
		// Nothing a retry could fix.
		if err := w.store.FailResume(r.ID, ErrEmpty.Error()); err != nil {
			return fmt.Errorf("marking resume failed: %w", err)
		}
		return nil
	}

	digest, skills := w.digest(ctx, r.Text)
	if skills == nil {
		skills = []string{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("encoding skills: %w", err)
	}
	if err := w.store.CompleteResume(r.ID, r.Text, digest, string(skillsJSON)); err != nil {
		return fmt.Errorf("storing digest: %w", err)
	}
	w.logger.Info("resume digested", "resume_id", r.ID, "skills", len(skills))
	return nil
}

// digest asks the model for a summary and falls back to a local one.
func (w *Worker) digest(ctx context.Context, text string) (string, []string) {
	if w.chat == nil {
		return LocalDigest(text)
	}

	prompt := text
	if r := []rune(prompt); len(r) > maxPromptRunes {
		prompt = string(r[:maxPromptRunes])
	}
	raw, err := w.chat.Chat(ctx, w.model, []llm.Message{
		{Role: "system", Content: digestSystemPrompt},
		{Role: "user", Content: prompt},
	}, &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"digest": {Type: "string"},
			"skills": {Type: "array"},
		},
		Required: []string{"digest", "skills"},
	})
	if err != nil {
		w.logger.Warn("resume digest generation failed, using local digest", "error", err)
		return LocalDigest(text)
	}

	var out struct {
		Digest string   `json:"digest"`
		Skills []string `json:"skills"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil || strings.TrimSpace(out.Digest) == "" {
		w.logger.Warn("resume digest unparseable, using local digest", "response", raw)
		return LocalDigest(text)
	}
	skills := normalizeSkills(out.Skills)
	if len(skills) == 0 {
		_, skills = LocalDigest(text)
	}
	return strings.TrimSpace(out.Digest), skills
}

var knownSkills = []string{
	"go", "golang", "python", "java", "kotlin", "scala", "rust", "c++", "c#", "ruby", "php",
	"javascript", "typescript", "react", "vue", "angular", "node", "swift",
	"sql", "postgres", "postgresql", "mysql", "mongodb", "redis", "kafka", "rabbitmq", "elasticsearch",
	"docker", "kubernetes", "terraform", "aws", "gcp", "azure", "linux",
	"grpc", "graphql", "rest", "microservices", "machine learning", "spark",
}

// LocalDigest builds a digest without a model: the opening of the resume
// plus any well-known skills it mentions.
func LocalDigest(text string) (string, []string) {
	digest := text
	if r := []rune(digest); len(r) > maxDigestRunes {
		digest = strings.TrimSpace(string(r[:maxDigestRunes])) + "..."
	}

	lower := " " + strings.ToLower(text) + " "
	var skills []string
	for _, s := range knownSkills {
		if containsWord(lower, s) {
			skills = append(skills, s)
		}
		if len(skills) == maxSkills {
			break
		}
	}
	return digest, skills
}

func containsWord(haystack, word string) bool {
	for i := 0; ; {
		j := strings.Index(haystack[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if !isWordByte(haystack[start-1]) && (end >= len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '+' || b == '#'
}

func normalizeSkills(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
		if len(out) == maxSkills {
			break
		}
	}
	return out
}
