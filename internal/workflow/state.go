package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/storage"
)

// StateKey is the record key the session state is stored under.
const StateKey = "session-state"

// SchemaVersion is the version of the persisted session state this binary writes.
const SchemaVersion = 1

// persistedState is the on-disk envelope of the session state.
type persistedState struct {
	SchemaVersion   int               `json:"schema_version"`
	ActiveSessionID string            `json:"active_session_id,omitempty"`
	RecentSessions  []*domain.Session `json:"recent_sessions"`
}

// legacyState is the unversioned layout, where the active session was stored
// as a full copy next to the recent list.
type legacyState struct {
	CurrentSession *domain.Session   `json:"currentSession"`
	RecentSessions []*domain.Session `json:"recentSessions"`
}

func encodeState(activeID string, recent []*domain.Session) ([]byte, error) {
	st := persistedState{
		SchemaVersion:   SchemaVersion,
		ActiveSessionID: activeID,
		RecentSessions:  recent,
	}
	if st.RecentSessions == nil {
		st.RecentSessions = []*domain.Session{}
	}
	return json.Marshal(st)
}

func decodeState(raw []byte) (*persistedState, error) {
	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}

	switch {
	case head.SchemaVersion > SchemaVersion:
		return nil, fmt.Errorf("%w: %d (supported up to %d)", ErrUnsupportedSchema, head.SchemaVersion, SchemaVersion)
	case head.SchemaVersion == 0:
		return upgradeLegacyState(raw)
	}

	var st persistedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &st, nil
}

func upgradeLegacyState(raw []byte) (*persistedState, error) {
	var legacy legacyState
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("decode legacy session state: %w", err)
	}

	st := &persistedState{SchemaVersion: SchemaVersion, RecentSessions: legacy.RecentSessions}
	if legacy.CurrentSession == nil {
		return st, nil
	}

	st.ActiveSessionID = legacy.CurrentSession.ID
	for i, s := range st.RecentSessions {
		if s != nil && s.ID == legacy.CurrentSession.ID {
			st.RecentSessions[i] = legacy.CurrentSession
			return st, nil
		}
	}
	st.RecentSessions = append([]*domain.Session{legacy.CurrentSession}, st.RecentSessions...)
	return st, nil
}

func loadState(ctx context.Context, store storage.Store) (*persistedState, error) {
	raw, err := store.Get(ctx, StateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &persistedState{SchemaVersion: SchemaVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	return decodeState(raw)
}
