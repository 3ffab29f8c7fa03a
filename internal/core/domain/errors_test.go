package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomworks/loom/internal/core/domain"
)

func TestAnnotate_KeepsSentinelInChain(t *testing.T) {
	err := domain.Annotate(domain.ErrSubcallBudgetExceeded, "scope", "run")

	assert.ErrorIs(t, err, domain.ErrSubcallBudgetExceeded)
	assert.EqualError(t, err, domain.ErrSubcallBudgetExceeded.Error())
}

func TestAnnotate_Nested(t *testing.T) {
	err := domain.Annotate(domain.Annotate(domain.ErrResumeMismatch, "field", "schema_version"), "persisted", 2)

	assert.ErrorIs(t, err, domain.ErrResumeMismatch)
}

func TestAnnotate_WrappedCause(t *testing.T) {
	cause := errors.New("disk full")
	err := domain.Annotate(cause, "path", "/tmp/x")

	assert.ErrorIs(t, err, cause)
}

func TestAnnotate_Nil(t *testing.T) {
	assert.NoError(t, domain.Annotate(nil, "key", "value"))
}
