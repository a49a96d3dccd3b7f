package enrichment

// Outcome names what happened to one event during enrichment
type Outcome string

const (
	OutcomeEnriched      Outcome = "enriched"
	OutcomeLookupMiss    Outcome = "lookup_miss"
	OutcomeLookupError   Outcome = "lookup_error"
	OutcomeSourceMissing Outcome = "source_missing"
	OutcomeInvalidIP     Outcome = "invalid_ip"
	OutcomePreserved     Outcome = "preserved"
	OutcomeStamped       Outcome = "stamped"
)

// Outcomes lists every outcome, in a stable order
var Outcomes = []Outcome{
	OutcomeEnriched,
	OutcomeLookupMiss,
	OutcomeLookupError,
	OutcomeSourceMissing,
	OutcomeInvalidIP,
	OutcomePreserved,
	OutcomeStamped,
}

// Observer receives enrichment outcomes. It is called from the goroutine
// running Process and must not block.
type Observer interface {
	Observe(outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) Observe(Outcome) {}
