package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusPending, StatusCompleted}:    true,
		{StatusPending, StatusFailed}:       true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusCompleted, StatusRefunded}:   true,
	}
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestMethodValid(t *testing.T) {
	assert.True(t, MethodOnline.Valid())
	assert.True(t, MethodCOD.Valid())
	assert.False(t, Method("card").Valid())
}
