// ABOUTME: Three-valued provisioning outcome and the text shown to the user for each
// ABOUTME: Ready when every source attached, Degraded when some did, Unready when none did

package provision

import "fmt"

// Outcome summarizes how many configured sources were attached.
type Outcome int

const (
	Ready Outcome = iota
	Degraded
	Unready
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Unready:
		return "unready"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// OutcomeOf classifies attached successes out of total configured sources.
// With no sources configured the agent is fully ready.
func OutcomeOf(attached, total int) Outcome {
	switch {
	case attached == total:
		return Ready
	case attached > 0:
		return Degraded
	default:
		return Unready
	}
}

// Message is the user-facing text for the outcome of provisioning the named assistant.
func (o Outcome) Message(assistant string) string {
	switch o {
	case Ready:
		return fmt.Sprintf("Setup completed. %s is ready to assist you!", assistant)
	case Degraded:
		return fmt.Sprintf("Your assistant was created, but some data sources couldn't be attached. %s may have limited knowledge.", assistant)
	default:
		return fmt.Sprintf("Your assistant was created, but no data sources were attached. %s may have limited knowledge.", assistant)
	}
}
