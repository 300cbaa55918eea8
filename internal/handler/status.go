package handler

import "fmt"

// StatusKind classifies a handler's exit status.
type StatusKind int

const (
	// StatusSuccess means the handler claimed the file.
	StatusSuccess StatusKind = iota
	// StatusDelay means the handler asked to be retried later.
	StatusDelay
	// StatusOther means the handler declined; the next one is tried.
	StatusOther
)

// Status is a handler exit status decoded against the delay sentinel.
type Status struct {
	Kind StatusKind
	Code int
}

// Decode turns a raw exit code into a Status.
func Decode(code, delayCode int) Status {
	switch code {
	case 0:
		return Status{Kind: StatusSuccess}
	case delayCode:
		return Status{Kind: StatusDelay, Code: code}
	default:
		return Status{Kind: StatusOther, Code: code}
	}
}

func (s Status) String() string {
	switch s.Kind {
	case StatusSuccess:
		return "success"
	case StatusDelay:
		return fmt.Sprintf("delay(%d)", s.Code)
	default:
		return fmt.Sprintf("other(%d)", s.Code)
	}
}

// Outcome is the terminal result of running a handler chain.
type Outcome int

const (
	// HandledSuccessfully means some handler exited 0.
	HandledSuccessfully Outcome = iota
	// ChainExhausted means every handler declined.
	ChainExhausted
	// AttemptsExceeded means the delay budget ran out.
	AttemptsExceeded
	// FatalConfigError means the rule or a template is unusable.
	FatalConfigError
)

func (o Outcome) String() string {
	switch o {
	case HandledSuccessfully:
		return "handled"
	case ChainExhausted:
		return "chain_exhausted"
	case AttemptsExceeded:
		return "attempts_exceeded"
	case FatalConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}
