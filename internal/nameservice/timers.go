package nameservice

import "time"

// The advertisement TTL drives the other cadences: retransmission at two
// thirds of the TTL, silence probing at a quarter of it.
const (
	// Duration is the TTL carried on IsAt advertisements.
	Duration = 120 * time.Second
	// Retransmit is how often an active advertisement is resent unprompted.
	Retransmit = 80 * time.Second
	// Question is how long a found remote may stay silent before the
	// engine starts probing it.
	Question = 30 * time.Second
	// QuestionModulus is the probe cadence in ticks once the question
	// window has opened.
	QuestionModulus = 10
	// Retries bounds how many follow-up WhoHas transmissions a
	// FindAdvertisedName schedules after the initial one.
	Retries = 2
	// RetryInterval is the spacing between WhoHas retransmissions.
	RetryInterval = 5 * time.Second
	// TickInterval is the engine's run-loop cadence.
	TickInterval = 1 * time.Second
)

// criticalParameters holds the per-engine copies of the protocol timers,
// overridable via SetCriticalParameters.
type criticalParameters struct {
	duration        time.Duration
	retransmit      time.Duration
	question        time.Duration
	questionModulus uint64
	retries         int
	retryInterval   time.Duration
}

func defaultParameters() criticalParameters {
	return criticalParameters{
		duration:        Duration,
		retransmit:      Retransmit,
		question:        Question,
		questionModulus: QuestionModulus,
		retries:         Retries,
		retryInterval:   RetryInterval,
	}
}
