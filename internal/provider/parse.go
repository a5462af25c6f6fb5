package provider

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"governance_council/internal/domain"
)

var voteSynonyms = map[string]domain.VoteValue{
	"approve":      domain.VoteApprove,
	"approved":     domain.VoteApprove,
	"approval":     domain.VoteApprove,
	"yes":          domain.VoteApprove,
	"accept":       domain.VoteApprove,
	"accepted":     domain.VoteApprove,
	"reject":       domain.VoteReject,
	"rejected":     domain.VoteReject,
	"no":           domain.VoteReject,
	"deny":         domain.VoteReject,
	"denied":       domain.VoteReject,
	"escalate":     domain.VoteEscalate,
	"escalated":    domain.VoteEscalate,
	"escalation":   domain.VoteEscalate,
	"abstain":      domain.VoteEscalate,
	"human_review": domain.VoteEscalate,
}

var (
	voteKeys      = []string{"vote", "decision", "verdict"}
	reasoningKeys = []string{"reasoning", "rationale", "reason"}
)

// ParseVote extracts exactly one ballot choice from model output. Every vote
// field of a JSON object (bare, fenced, or embedded in prose) and every
// "VOTE: <value>" line is a candidate. Output with no candidate, an unknown
// value, or more than one distinct value returns ErrUnparseableVote; nothing
// is ever defaulted.
func ParseVote(raw string) (domain.VoteValue, string, error) {
	text := stripFences(raw)
	if text == "" {
		return "", "", fmt.Errorf("%w: empty output", domain.ErrUnparseableVote)
	}

	var candidates []domain.VoteValue
	var reasoning string
	if obj, ok := extractJSONObject(text); ok {
		values, err := lookupStrings(obj, voteKeys)
		if err != nil {
			return "", "", err
		}
		for _, value := range values {
			vote, ok := normalizeVote(value)
			if !ok {
				return "", "", fmt.Errorf("%w: unknown vote %q", domain.ErrUnparseableVote, value)
			}
			candidates = append(candidates, vote)
		}
		if texts, err := lookupStrings(obj, reasoningKeys); err == nil && len(texts) > 0 {
			reasoning = strings.TrimSpace(texts[0])
		}
	}

	lineVotes, lineReasoning, err := parseVoteLines(text)
	if err != nil {
		return "", "", err
	}
	candidates = append(candidates, lineVotes...)
	if reasoning == "" && len(lineVotes) > 0 {
		reasoning = lineReasoning
	}

	if len(candidates) == 0 {
		return "", "", fmt.Errorf("%w: no vote found", domain.ErrUnparseableVote)
	}
	for _, v := range candidates[1:] {
		if v != candidates[0] {
			return "", "", fmt.Errorf("%w: conflicting votes %v", domain.ErrUnparseableVote, candidates)
		}
	}
	return candidates[0], reasoning, nil
}

func parseVoteLines(text string) ([]domain.VoteValue, string, error) {
	var found []domain.VoteValue
	var reasoning []string
	for _, line := range strings.Split(text, "\n") {
		clean := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*#>-"))
		label, value, ok := strings.Cut(clean, ":")
		if !ok {
			if clean != "" {
				reasoning = append(reasoning, clean)
			}
			continue
		}
		switch strings.ToLower(strings.Trim(strings.TrimSpace(label), "*")) {
		case "vote", "decision", "verdict":
			vote, err := lineVote(strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*")))
			if err != nil {
				return nil, "", err
			}
			found = append(found, vote)
		case "reasoning", "rationale", "reason":
			if v := strings.TrimSpace(value); v != "" {
				reasoning = append(reasoning, v)
			}
		default:
			reasoning = append(reasoning, clean)
		}
	}
	return found, strings.Join(reasoning, " "), nil
}

// lineVote maps the value of a vote line. The whole value is tried first;
// otherwise the leading word counts, except yes and no, which are too common
// in prose ("no consensus possible") to stand for a ballot on their own.
func lineVote(value string) (domain.VoteValue, error) {
	if value == "" {
		return "", fmt.Errorf("%w: empty vote line", domain.ErrUnparseableVote)
	}
	if vote, ok := normalizeVote(value); ok {
		return vote, nil
	}
	first := strings.Fields(value)[0]
	switch strings.ToLower(strings.Trim(first, " .,;:!*\"'`")) {
	case "yes", "no":
		return "", fmt.Errorf("%w: bare %q inside %q", domain.ErrUnparseableVote, first, value)
	}
	vote, ok := normalizeVote(first)
	if !ok {
		return "", fmt.Errorf("%w: unknown vote %q", domain.ErrUnparseableVote, value)
	}
	return vote, nil
}

func normalizeVote(value string) (domain.VoteValue, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.Trim(v, " .,;!*\"'`")
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "-", "_")
	vote, ok := voteSynonyms[v]
	return vote, ok
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func extractJSONObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// lookupStrings returns the values of every key matching one of keys,
// case-insensitively, in a stable order. A matching non-string value is an
// error.
func lookupStrings(obj map[string]any, keys []string) ([]string, error) {
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []string
	for _, k := range names {
		if !slices.ContainsFunc(keys, func(want string) bool { return strings.EqualFold(k, want) }) {
			continue
		}
		s, ok := obj[k].(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not a string", domain.ErrUnparseableVote, k)
		}
		out = append(out, s)
	}
	return out, nil
}
