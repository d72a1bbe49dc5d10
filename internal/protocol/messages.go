package protocol

import "time"

// Command carries a user-initiated request (keyboard shortcut, context menu,
// control CLI) onto the bus. The command name is the subject suffix.
type Command struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// PlayRequest asks the audio player to play one synthesized audio item.
type PlayRequest struct {
	AudioURI string `json:"audio_uri"`
}

// PlayResult is the player's reply to a play or stop request.
type PlayResult struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Play outcomes.
const (
	OutcomeFinished           = "finished"
	OutcomeStopped            = "stopped"
	OutcomeStoppedBeforeStart = "stopped-before-start"
	OutcomeNothingPlaying     = "nothing-playing"
	OutcomeError              = "error"
)

// MenuState mirrors playback state so read-aloud/stop affordances stay
// consistent with what the coordinator is doing.
type MenuState struct {
	Playing   bool      `json:"playing"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is a user-facing error or status message.
type Notification struct {
	Icon    string `json:"icon,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

const (
	SubjectCommandPrefix = "cmd"
	SubjectPlayerPlay    = "player.play"
	SubjectPlayerStop    = "player.stop"
	SubjectPlayerPing    = "player.ping"
	SubjectMenuState     = "playback.menu"
	SubjectNotify        = "ui.notify"
)
