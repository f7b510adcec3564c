package engine

// Decision is the next step for a request given its attempt history.
type Decision int

const (
	// DecisionRelay relays the latest outcome to the client.
	DecisionRelay Decision = iota
	// DecisionRetryDirect makes one more attempt over a direct connection.
	DecisionRetryDirect
	// DecisionFail surfaces an error response to the client.
	DecisionFail
)

// Decide is the fallback policy as a pure function of the outcome history
// for one request. A proxy failure earns exactly one direct retry; a target
// failure or a second failure of any kind is final.
func Decide(history []OutcomeKind) Decision {
	if len(history) == 0 {
		return DecisionRetryDirect
	}
	last := history[len(history)-1]
	switch last {
	case OutcomeSuccess:
		return DecisionRelay
	case OutcomeProxyFailure:
		if len(history) == 1 {
			return DecisionRetryDirect
		}
		return DecisionFail
	default:
		return DecisionFail
	}
}
