package brokererr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Authentication, http.StatusUnauthorized},
		{Authorization, http.StatusForbidden},
		{Validation, http.StatusBadRequest},
		{BadRequest, http.StatusBadRequest},
		{Parse, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{SchedulingImpossible, http.StatusConflict},
		{Database, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
		{Serialization, http.StatusInternalServerError},
	}
	for _, c := range cases {
		e := &Error{Kind: c.kind, Message: "x"}
		assert.Equal(t, c.want, e.Status(), c.kind)
	}
}

func TestShouldLog(t *testing.T) {
	assert.True(t, (&Error{Kind: Database}).ShouldLog())
	assert.True(t, (&Error{Kind: Conflict}).ShouldLog())
	assert.False(t, (&Error{Kind: NotFound}).ShouldLog())
	assert.False(t, (&Error{Kind: Authentication}).ShouldLog())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(Database, cause)
	assert.ErrorIs(t, e, cause)
}

func TestToEnvelopeClassifiesUnknownErrorsAsInternal(t *testing.T) {
	env := ToEnvelope(errors.New("boom"))
	assert.Equal(t, string(Internal), env.Error.Type)
	assert.Equal(t, http.StatusInternalServerError, env.Error.Status)
}

func TestToEnvelopePreservesKnownKind(t *testing.T) {
	env := ToEnvelope(NewNotFound("task %s", "abc"))
	assert.Equal(t, string(NotFound), env.Error.Type)
	assert.Equal(t, http.StatusNotFound, env.Error.Status)
	assert.Equal(t, "task abc", env.Error.Message)
}
