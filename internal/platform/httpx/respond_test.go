package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, res *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var envelope Envelope
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &envelope))
	return envelope
}

func TestOKEnvelope(t *testing.T) {
	res := httptest.NewRecorder()
	OK(res, map[string]any{"id": 7})

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "application/json", res.Header().Get("Content-Type"))

	envelope := decode(t, res)
	require.True(t, envelope.Success)
	require.Empty(t, envelope.Error)
	require.NotNil(t, envelope.Data)
}

func TestErrorEnvelope(t *testing.T) {
	res := httptest.NewRecorder()
	Error(res, http.StatusForbidden, "Permission refusée: users requise")

	require.Equal(t, http.StatusForbidden, res.Code)

	envelope := decode(t, res)
	require.False(t, envelope.Success)
	require.Equal(t, "Permission refusée: users requise", envelope.Error)
	require.Nil(t, envelope.Data)
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrDuplicate, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("panne inattendue"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		res := httptest.NewRecorder()
		RespondError(res, fmt.Errorf("contexte: %w", tc.err))
		require.Equal(t, tc.status, res.Code, "error %v", tc.err)
	}
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	res := httptest.NewRecorder()
	RespondError(res, errors.New("pq: connection refused"))

	envelope := decode(t, res)
	require.Equal(t, "Erreur interne", envelope.Error)
	require.NotContains(t, res.Body.String(), "connection refused")
}
