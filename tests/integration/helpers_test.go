//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/testutil"
	"github.com/bissquit/triage-garden/internal/validation"
	"github.com/stretchr/testify/require"
)

// resetSessions clears the shared session history so each test starts from the dashboard.
func resetSessions(t *testing.T, client *testutil.Client) {
	t.Helper()

	resp, err := client.DELETE("/api/v1/sessions")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
}

// createSession creates a session for the scenario and returns it.
func createSession(t *testing.T, client *testutil.Client, scenario string) domain.Session {
	t.Helper()

	resp, err := client.POST("/api/v1/sessions", map[string]string{"scenario": scenario})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess domain.Session
	testutil.DecodeData(t, resp, &sess)
	return sess
}

// getBoard fetches the validation board of a session.
func getBoard(t *testing.T, client *testutil.Client, sessionID string) validation.Board {
	t.Helper()

	resp, err := client.GET("/api/v1/sessions/" + sessionID + "/validation")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var board validation.Board
	testutil.DecodeData(t, resp, &board)
	return board
}
