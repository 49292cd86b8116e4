package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeState_UpgradesLegacyLayout(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantActive string
		wantIDs    []string
	}{
		{
			name:       "active session in recent list",
			raw:        `{"currentSession":{"id":"b","completed":true},"recentSessions":[{"id":"a"},{"id":"b"}]}`,
			wantActive: "b",
			wantIDs:    []string{"a", "b"},
		},
		{
			name:       "active session missing from recent list",
			raw:        `{"currentSession":{"id":"c"},"recentSessions":[{"id":"a"}]}`,
			wantActive: "c",
			wantIDs:    []string{"c", "a"},
		},
		{
			name:    "no active session",
			raw:     `{"recentSessions":[{"id":"a"}]}`,
			wantIDs: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := decodeState([]byte(tt.raw))
			require.NoError(t, err)

			assert.Equal(t, SchemaVersion, st.SchemaVersion)
			assert.Equal(t, tt.wantActive, st.ActiveSessionID)

			ids := make([]string, 0, len(st.RecentSessions))
			for _, s := range st.RecentSessions {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestDecodeState_LegacyActiveCopyWins(t *testing.T) {
	st, err := decodeState([]byte(`{"currentSession":{"id":"b","completed":true},"recentSessions":[{"id":"b"}]}`))
	require.NoError(t, err)
	require.Len(t, st.RecentSessions, 1)
	assert.True(t, st.RecentSessions[0].Completed)
}

func TestEncodeState(t *testing.T) {
	raw, err := encodeState("", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"schema_version":1,"recent_sessions":[]}`, string(raw))
}
