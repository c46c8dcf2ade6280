package reconcile

import (
	"fmt"
	"strings"
)

// Outcome tags the result of recording one task execution.
type Outcome int

const (
	// OutcomeSuccess means the execution completed without error.
	OutcomeSuccess Outcome = iota

	// OutcomeSuppressed means the execution failed but the failure is
	// tolerated: a later pass may resolve the ordering dependency.
	OutcomeSuppressed

	// OutcomeFailed means the execution failed on the final attempt; the
	// failure is recorded and the restore will abort.
	OutcomeFailed
)

// Report is the per-restore ledger of task attempts and failures. Attempt
// counters persist for the whole restore invocation so diagnostics can say
// "3rd attempt"; recorded failures are cleared at the start of each
// attempt and only accumulate on the final, non-suppressing one.
type Report struct {
	attempts map[taskKey]int
	failures []error
	final    bool

	// queued and failed count task executions of the current attempt, for
	// the restore journal.
	queued int
	failedCount int
}

// NewReport creates a report for one restore invocation.
func NewReport() *Report {
	return &Report{attempts: make(map[taskKey]int)}
}

// BeginAttempt resets the per-attempt state. final marks the attempt whose
// failures are no longer suppressed.
func (r *Report) BeginAttempt(final bool) {
	r.final = final
	r.failures = nil
	r.queued = 0
	r.failedCount = 0
}

// Final reports whether the current attempt is the non-suppressing one.
func (r *Report) Final() bool {
	return r.final
}

// beginExecution bumps the attempt counter for the key and returns the
// ordinal string for diagnostics.
func (r *Report) beginExecution(k taskKey) string {
	r.attempts[k]++
	r.queued++
	return ordinal(r.attempts[k])
}

// Attempts returns how often the given operation has been executed for the
// key during this restore invocation.
func (r *Report) Attempts(op Op, key string) int {
	return r.attempts[taskKey{op: op, key: key}]
}

// record classifies a task failure. On suppressing attempts the error is
// dropped; on the final attempt it is kept for the aggregate error.
func (r *Report) record(k taskKey, err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	r.failedCount++
	if !r.final {
		return OutcomeSuppressed
	}

	r.failures = append(r.failures, fmt.Errorf("%s: %w", k, err))
	return OutcomeFailed
}

// QueuedThisAttempt returns how many task executions the current attempt
// performed.
func (r *Report) QueuedThisAttempt() int {
	return r.queued
}

// FailedThisAttempt returns how many task executions the current attempt
// failed.
func (r *Report) FailedThisAttempt() int {
	return r.failedCount
}

// Failures returns the failures recorded on the final attempt.
func (r *Report) Failures() []error {
	return r.failures
}

// Err returns the recorded failures as one aggregate error, or nil.
func (r *Report) Err() error {
	switch len(r.failures) {
	case 0:
		return nil
	case 1:
		return r.failures[0]
	}
	return &AggregateError{Primary: r.failures[0], Secondary: r.failures[1:]}
}

// AggregateError carries the first failure of a restore as its primary
// cause and the remainder as secondary causes, so a single error
// communicates the full set of unresolved units.
type AggregateError struct {
	Primary   error
	Secondary []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v (and %d more failure", e.Primary, len(e.Secondary))
	if len(e.Secondary) != 1 {
		b.WriteString("s")
	}
	b.WriteString(":")
	for _, err := range e.Secondary {
		b.WriteString(" ")
		b.WriteString(err.Error())
		b.WriteString(";")
	}
	return strings.TrimSuffix(b.String(), ";") + ")"
}

// Unwrap exposes all causes for errors.Is / errors.As.
func (e *AggregateError) Unwrap() []error {
	return append([]error{e.Primary}, e.Secondary...)
}

// ordinal renders 1 as "1st", 2 as "2nd" and so on.
func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
