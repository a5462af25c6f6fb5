package policy

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"governance_council/internal/domain"
)

var DefaultSubjectTypes = []string{
	"policy",
	"model_release",
	"data_access",
	"incident",
	"governance",
}

const (
	defaultMaxTitleLen       = 200
	defaultMaxDescriptionLen = 8000
)

type Config struct {
	SubjectTypes      []string
	MaxTitleLen       int
	MaxDescriptionLen int
}

// Engine decides whether a subject may be put to the council at all.
type Engine struct {
	types             map[string]struct{}
	maxTitleLen       int
	maxDescriptionLen int
}

func New(cfg Config) *Engine {
	types := cfg.SubjectTypes
	if len(types) == 0 {
		types = DefaultSubjectTypes
	}
	e := &Engine{
		types:             make(map[string]struct{}, len(types)),
		maxTitleLen:       cfg.MaxTitleLen,
		maxDescriptionLen: cfg.MaxDescriptionLen,
	}
	if e.maxTitleLen <= 0 {
		e.maxTitleLen = defaultMaxTitleLen
	}
	if e.maxDescriptionLen <= 0 {
		e.maxDescriptionLen = defaultMaxDescriptionLen
	}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			e.types[t] = struct{}{}
		}
	}
	return e
}

// CanSubmit reports whether the subject is admissible and, if not, why.
func (e *Engine) CanSubmit(_ context.Context, subject domain.Subject) (bool, string, error) {
	if _, ok := e.types[strings.TrimSpace(subject.Type)]; !ok {
		return false, fmt.Sprintf("unknown subject type %q", subject.Type), nil
	}
	title := strings.TrimSpace(subject.Title)
	if title == "" {
		return false, "subject title is empty", nil
	}
	if n := utf8.RuneCountInString(title); n > e.maxTitleLen {
		return false, fmt.Sprintf("subject title has %d characters, limit %d", n, e.maxTitleLen), nil
	}
	if n := utf8.RuneCountInString(subject.Description); n > e.maxDescriptionLen {
		return false, fmt.Sprintf("subject description has %d characters, limit %d", n, e.maxDescriptionLen), nil
	}
	return true, "", nil
}

func (e *Engine) SubjectTypes() []string {
	out := make([]string, 0, len(e.types))
	for t := range e.types {
		out = append(out, t)
	}
	return out
}
