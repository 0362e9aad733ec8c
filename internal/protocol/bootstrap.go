package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/fablehaus/tandem/internal/playback"
)

// LaunchScheme is the URL scheme used to address a pop-out player window.
const LaunchScheme = "tandem"

// LaunchHost is the host part of a pop-out launch URL.
const LaunchHost = "satellite"

const stateParam = "state"

// EncodeLaunchURL builds the launch URL for a pop-out window, embedding the
// full current playback state as a URL-escaped JSON document. The pop-out
// reads it once at startup, before any channel traffic can be relied on.
func EncodeLaunchURL(state playback.State) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode bootstrap state: %w", err)
	}

	u := url.URL{Scheme: LaunchScheme, Host: LaunchHost}
	q := u.Query()
	q.Set(stateParam, string(data))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DecodeLaunchURL extracts the bootstrap playback state from a pop-out
// launch URL. A missing or unparsable state parameter yields a default
// state and ok=false; the pop-out then pulls authoritative state over the
// channel instead.
func DecodeLaunchURL(launchURL string) (playback.State, bool) {
	u, err := url.Parse(launchURL)
	if err != nil {
		return playback.NewState(), false
	}

	raw := u.Query().Get(stateParam)
	if raw == "" {
		return playback.NewState(), false
	}

	state := playback.NewState()
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return playback.NewState(), false
	}
	if state.PlaybackRate == 0 || !playback.ValidRate(state.PlaybackRate) {
		state.PlaybackRate = playback.DefaultRate
	}
	state.CurrentTime = playback.ClampTime(state.CurrentTime, state.Duration)
	return state, true
}
