package supervisor

import (
	"github.com/kalambet/interviewd/internal/interviewer"
	"github.com/kalambet/interviewd/internal/llm"
	"github.com/kalambet/interviewd/internal/session"
)

// InterviewerFactory builds bank-backed collaborators. chat may be nil, in
// which case every collaborator runs locally.
func InterviewerFactory(bank *interviewer.Bank, chat llm.Chatter, model string) Factory {
	return func(cfg session.Config, _ session.CandidateProfile) (Collaborators, error) {
		return Collaborators{
			Questions: interviewer.NewQuestionSource(bank, cfg, chat, model),
			Evaluator: interviewer.NewEvaluator(chat, model),
			Feedback:  interviewer.NewSynthesizer(chat, model),
		}, nil
	}
}
