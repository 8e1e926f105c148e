package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad input"), http.StatusBadRequest},
		{Unauthorized("no token"), http.StatusUnauthorized},
		{Forbidden("admin only"), http.StatusForbidden},
		{NotFound("room %q not found", "r1"), http.StatusNotFound},
		{Conflict("duplicate"), http.StatusConflict},
		{Internal("store read", errors.New("redis down")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err), c.err.Error())
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("send message: %w", Conflict("duplicate message"))
	assert.True(t, IsKind(err, KindConflict))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "room \"r1\" not found", Message(NotFound("room %q not found", "r1")))
	assert.Equal(t, "internal error", Message(Internal("store read", errors.New("dial tcp: refused"))))
	assert.Equal(t, "internal error", Message(errors.New("plain")))
}

func TestInternalKeepsCauseForLogs(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Internal("store read", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp")
}
