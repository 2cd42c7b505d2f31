package worker

import (
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
)

// ResultKind is the decision the dispatcher reached for one job.
type ResultKind int

const (
	ResultSent ResultKind = iota
	ResultSkip
	ResultRetry       // transient failure, consumes an attempt
	ResultRateLimited // provider asked to slow down
	ResultFailed      // permanent failure, no retry
)

func (k ResultKind) String() string {
	switch k {
	case ResultSent:
		return "sent"
	case ResultSkip:
		return "skipped"
	case ResultRetry:
		return "retry"
	case ResultRateLimited:
		return "rate_limited"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is one dispatched job together with what should happen to it.
type Result struct {
	Job  domain.QueueJob
	Kind ResultKind

	Reason     string // skip reason code
	MessageID  string // id of the last delivered message
	Variant    string // A/B variant key, if any
	SideEffect string // contact flag written while classifying
	RetryAfter time.Duration
	Err        error
}

func sent(job domain.QueueJob, messageID, variantKey string) Result {
	return Result{Job: job, Kind: ResultSent, MessageID: messageID, Variant: variantKey}
}

func skip(job domain.QueueJob, reason string) Result {
	return Result{Job: job, Kind: ResultSkip, Reason: reason}
}

func retry(job domain.QueueJob, err error) Result {
	return Result{Job: job, Kind: ResultRetry, Err: err}
}

func failed(job domain.QueueJob, err error) Result {
	return Result{Job: job, Kind: ResultFailed, Err: err}
}

// errText is the error string stored on the job.
func (r Result) errText() string {
	if r.Err == nil {
		return ""
	}
	return domain.TruncateError(r.Err.Error())
}
