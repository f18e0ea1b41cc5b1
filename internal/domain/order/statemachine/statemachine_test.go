package statemachine

import (
	"errors"
	"testing"

	"checkout_core/internal/domain/order/model"
	"checkout_core/internal/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var edges = map[[2]model.Status]bool{
	{model.StatusPending, model.StatusConfirmed}:    true,
	{model.StatusPending, model.StatusCancelled}:    true,
	{model.StatusConfirmed, model.StatusProcessing}: true,
	{model.StatusConfirmed, model.StatusCancelled}:  true,
	{model.StatusProcessing, model.StatusShipped}:   true,
	{model.StatusProcessing, model.StatusCancelled}: true,
	{model.StatusShipped, model.StatusDelivered}:    true,
	{model.StatusDelivered, model.StatusRefunded}:   true,
}

func TestValidateAllPairs(t *testing.T) {
	for _, from := range model.AllStatuses {
		for _, to := range model.AllStatuses {
			if from == to {
				continue
			}
			err := Validate(from, to)
			if edges[[2]model.Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}

			var transitionErr *apperr.InvalidTransitionError
			require.True(t, errors.As(err, &transitionErr), "%s -> %s", from, to)
			assert.Equal(t, string(from), transitionErr.Current)
			assert.Equal(t, string(to), transitionErr.Requested)
		}
	}
}

func TestShippedCannotBeCancelled(t *testing.T) {
	err := Validate(model.StatusShipped, model.StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(model.StatusCancelled))
	assert.True(t, IsTerminal(model.StatusRefunded))
	assert.False(t, IsTerminal(model.StatusDelivered))
	assert.Empty(t, Allowed(model.StatusCancelled))
}

func TestAllowedReturnsCopy(t *testing.T) {
	next := Allowed(model.StatusPending)
	require.Len(t, next, 2)
	next[0] = model.StatusRefunded
	assert.True(t, CanTransition(model.StatusPending, model.StatusConfirmed))
}

func TestIsNoopAndCancellable(t *testing.T) {
	assert.True(t, IsNoop(model.StatusShipped, model.StatusShipped))
	assert.False(t, IsNoop(model.StatusShipped, model.StatusDelivered))
	assert.True(t, Cancellable(model.StatusConfirmed))
	assert.False(t, Cancellable(model.StatusProcessing))
}
