package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsExponentially(t *testing.T) {
	policy := RetryPolicy{Base: 5 * time.Second, Cap: 10 * time.Minute}
	noJitter := func() float64 { return 0 }

	assert.Equal(t, 5*time.Second, backoffWithRand(1, policy, noJitter))
	assert.Equal(t, 10*time.Second, backoffWithRand(2, policy, noJitter))
	assert.Equal(t, 20*time.Second, backoffWithRand(3, policy, noJitter))
	assert.Equal(t, 40*time.Second, backoffWithRand(4, policy, noJitter))
}

func TestBackoff_RespectsCap(t *testing.T) {
	policy := RetryPolicy{Base: 5 * time.Second, Cap: 10 * time.Minute}
	noJitter := func() float64 { return 0 }

	got := backoffWithRand(20, policy, noJitter)
	assert.Equal(t, 10*time.Minute, got)
}

func TestBackoff_JitterIsNonZeroAndBounded(t *testing.T) {
	policy := RetryPolicy{Base: 5 * time.Second, Cap: 10 * time.Minute}

	maxJitter := func() float64 { return 0.0999999 }
	got := backoffWithRand(1, policy, maxJitter)
	assert.Greater(t, got, 5*time.Second)
	assert.Less(t, got, 5*time.Second+500*time.Millisecond)
}

func TestBackoff_DefaultsWhenPolicyUnset(t *testing.T) {
	got := backoffWithRand(1, RetryPolicy{}, func() float64 { return 0 })
	assert.Equal(t, 5*time.Second, got)
}

func TestBackoff_AttemptBelowOneClampsToOne(t *testing.T) {
	policy := RetryPolicy{Base: 5 * time.Second, Cap: 10 * time.Minute}
	noJitter := func() float64 { return 0 }

	assert.Equal(t, backoffWithRand(1, policy, noJitter), backoffWithRand(0, policy, noJitter))
}

func TestPriority_Weight(t *testing.T) {
	assert.Equal(t, 100, PriorityCritical.Weight())
	assert.Equal(t, 10, PriorityHigh.Weight())
	assert.Equal(t, 5, PriorityNormal.Weight())
	assert.Equal(t, 1, PriorityLow.Weight())
	assert.Equal(t, 5, Priority("bogus").Weight())
}

func TestPriority_Valid(t *testing.T) {
	assert.True(t, PriorityCritical.Valid())
	assert.True(t, PriorityLow.Valid())
	assert.False(t, Priority("urgent").Valid())
	assert.False(t, Priority("").Valid())
}
