package orchestration

import "errors"

var (
	ErrMalformedPlan      = errors.New("director returned a malformed plan")
	ErrUnknownWorker      = errors.New("unknown worker")
	ErrWorkerFailure      = errors.New("worker failed")
	ErrSummarizationEmpty = errors.New("summarizer returned no text")
)
