package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("council session not found")
	ErrDuplicateVote     = errors.New("agent already voted in session")
	ErrTallyMismatch     = errors.New("tally does not match recorded votes")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrPanelSize         = errors.New("agent registry has wrong panel size")
	ErrUnparseableVote   = errors.New("provider output has no unambiguous vote")
	ErrSubjectRejected   = errors.New("subject rejected by admission policy")
)
