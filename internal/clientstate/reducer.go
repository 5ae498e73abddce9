// Package clientstate holds the state machine a live demo viewer runs in
// response to broadcasts, and the session that feeds it.
package clientstate

import "github.com/valbows/domo-webhooks/internal/broadcast"

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseVideoPlaying Phase = "video_playing"
	PhaseDemoComplete Phase = "demo_complete"
)

// State is what the viewer shows. VideoURL is set only while a video plays.
type State struct {
	Phase    Phase
	VideoURL string
}

// Action is a sealed set of inputs to Reduce.
type Action interface{ action() }

type PlayVideo struct{ URL string }
type ShowTrialCTA struct{}
type AnalyticsUpdated struct{}

// ClosePlayer is the one action that originates locally, when the viewer
// dismisses the video.
type ClosePlayer struct{}

func (PlayVideo) action()        {}
func (ShowTrialCTA) action()     {}
func (AnalyticsUpdated) action() {}
func (ClosePlayer) action()      {}

// Effect is a side effect the caller should run after a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectRefreshAnalytics
)

// Reduce is pure. Playing a new video while one plays swaps the URL; the
// trial CTA ends the demo from any phase and a later video reopens the player.
func Reduce(s State, a Action) (State, Effect) {
	switch a := a.(type) {
	case PlayVideo:
		if a.URL == "" {
			return s, EffectNone
		}
		return State{Phase: PhaseVideoPlaying, VideoURL: a.URL}, EffectNone
	case ShowTrialCTA:
		return State{Phase: PhaseDemoComplete}, EffectNone
	case ClosePlayer:
		if s.Phase != PhaseVideoPlaying {
			return s, EffectNone
		}
		return State{Phase: PhaseIdle}, EffectNone
	case AnalyticsUpdated:
		return s, EffectRefreshAnalytics
	}
	return s, EffectNone
}

// ActionFromMessage maps a broadcast onto an action. ok is false for events
// the viewer does not act on.
func ActionFromMessage(m broadcast.Message) (Action, bool) {
	switch m.Event {
	case broadcast.EventPlayVideo:
		url, _ := m.Payload["url"].(string)
		return PlayVideo{URL: url}, true
	case broadcast.EventShowTrialCTA:
		return ShowTrialCTA{}, true
	case broadcast.EventAnalyticsUpdated:
		return AnalyticsUpdated{}, true
	}
	return nil, false
}
