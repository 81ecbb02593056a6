package session

import (
	"myaccountapp/account-client/internal/auth"
	"myaccountapp/account-client/internal/profile"
)

type Phase string

const (
	PhaseSignedOut      Phase = "signed_out"
	PhaseProfilePending Phase = "profile_pending"
	PhaseReady          Phase = "ready"
)

// State is a point-in-time copy of the coordinator's state.
type State struct {
	Session          *auth.Session
	Profile          *profile.Profile
	IsLoading        bool
	NetworkAvailable bool
}

func (s State) Phase() Phase {
	switch {
	case s.Session == nil:
		return PhaseSignedOut
	case s.Profile == nil:
		return PhaseProfilePending
	default:
		return PhaseReady
	}
}

func (s State) clone() State {
	out := s
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	if s.Profile != nil {
		p := s.Profile.Clone()
		out.Profile = &p
	}
	return out
}
