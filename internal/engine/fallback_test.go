package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name    string
		history []OutcomeKind
		want    Decision
	}{
		{"no attempts yet goes direct", nil, DecisionRetryDirect},
		{"proxy success relays", []OutcomeKind{OutcomeSuccess}, DecisionRelay},
		{"proxy failure earns one direct retry", []OutcomeKind{OutcomeProxyFailure}, DecisionRetryDirect},
		{"target failure is final", []OutcomeKind{OutcomeTargetFailure}, DecisionFail},
		{"fallback success relays", []OutcomeKind{OutcomeProxyFailure, OutcomeSuccess}, DecisionRelay},
		{"second failure is final", []OutcomeKind{OutcomeProxyFailure, OutcomeTargetFailure}, DecisionFail},
		{"no third attempt", []OutcomeKind{OutcomeProxyFailure, OutcomeProxyFailure}, DecisionFail},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.history))
		})
	}
}
