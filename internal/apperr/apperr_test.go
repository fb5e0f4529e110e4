package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthenticated", Unauthenticatedf("no token"), http.StatusUnauthorized},
		{"forbidden", Forbiddenf("nope"), http.StatusForbidden},
		{"not found", NotFoundf("trip not found"), http.StatusNotFound},
		{"invalid", Invalidf("bad lat"), http.StatusBadRequest},
		{"conflict", Conflictf("duplicate"), http.StatusConflict},
		{"invalid transition", ErrInvalidTransition, http.StatusConflict},
		{"internal", Internalf(errors.New("boom")), http.StatusInternalServerError},
		{"foreign error", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("ctx: %w", Forbiddenf("x")), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestMessage_HidesInternalDetails(t *testing.T) {
	err := Internalf(errors.New("mongo: connection refused at 10.0.0.3"))
	assert.Equal(t, "internal error", Message(err))
	assert.Equal(t, "internal error", Message(errors.New("raw")))
	assert.Equal(t, "trip not found", Message(NotFoundf("trip not found")))
}

func TestErrInvalidTransition_Is(t *testing.T) {
	err := fmt.Errorf("start trip: %w", ErrInvalidTransition)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(Conflictf("feedback already submitted"), ErrInvalidTransition))
	assert.Equal(t, Conflict, KindOf(err))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := Wrap(Internal, cause, "internal error")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "cause")
}
