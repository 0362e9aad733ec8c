// Package playback defines the replicated playback state shared between the
// main player window and a detached pop-out player.
package playback

// Rates is the fixed menu of selectable playback speeds.
var Rates = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0}

// DefaultRate is the playback speed a freshly mounted player starts with.
const DefaultRate = 1.0

// State is the full playback state of one player. Exactly one logical State
// is live per listening session; whichever side mutated it last owns it.
type State struct {
	IsPlaying    bool    `json:"isPlaying"`
	CurrentTime  float64 `json:"currentTime"`
	Duration     float64 `json:"duration"`
	PlaybackRate float64 `json:"playbackRate"`

	// Display metadata, replicated only so both windows render the same
	// book. Not used for playback control.
	AudioURL       string `json:"audioUrl,omitempty"`
	Title          string `json:"title,omitempty"`
	CoverImage     string `json:"coverImage,omitempty"`
	CurrentChapter string `json:"currentChapter,omitempty"`
	AudiobookID    string `json:"audiobookId,omitempty"`
}

// NewState returns the state of a freshly mounted player: paused at zero,
// normal speed, no book loaded.
func NewState() State {
	return State{PlaybackRate: DefaultRate}
}

// Patch is a partial state update. Nil fields are not applied, so a patch
// carrying only a playback rate leaves position and play state untouched.
type Patch struct {
	IsPlaying      *bool    `json:"isPlaying,omitempty" mapstructure:"isPlaying"`
	CurrentTime    *float64 `json:"currentTime,omitempty" mapstructure:"currentTime"`
	Duration       *float64 `json:"duration,omitempty" mapstructure:"duration"`
	PlaybackRate   *float64 `json:"playbackRate,omitempty" mapstructure:"playbackRate"`
	AudioURL       *string  `json:"audioUrl,omitempty" mapstructure:"audioUrl"`
	Title          *string  `json:"title,omitempty" mapstructure:"title"`
	CoverImage     *string  `json:"coverImage,omitempty" mapstructure:"coverImage"`
	CurrentChapter *string  `json:"currentChapter,omitempty" mapstructure:"currentChapter"`
	AudiobookID    *string  `json:"audiobookId,omitempty" mapstructure:"audiobookId"`

	// SeekTime is a transient seek instruction, not a state field. It is
	// carried on seek messages only and translated into a CurrentTime
	// update by the receiver.
	SeekTime *float64 `json:"seekTime,omitempty" mapstructure:"seekTime"`
}

// IsZero reports whether the patch carries no fields at all.
func (p Patch) IsZero() bool {
	return p.IsPlaying == nil && p.CurrentTime == nil && p.Duration == nil &&
		p.PlaybackRate == nil && p.AudioURL == nil && p.Title == nil &&
		p.CoverImage == nil && p.CurrentChapter == nil && p.AudiobookID == nil &&
		p.SeekTime == nil
}

// Apply merges the patch into the state, skipping nil fields. SeekTime is
// applied as a CurrentTime update.
func (s *State) Apply(p Patch) {
	if p.IsPlaying != nil {
		s.IsPlaying = *p.IsPlaying
	}
	if p.CurrentTime != nil {
		s.CurrentTime = ClampTime(*p.CurrentTime, s.Duration)
	}
	if p.SeekTime != nil {
		s.CurrentTime = ClampTime(*p.SeekTime, s.Duration)
	}
	if p.Duration != nil && *p.Duration >= 0 {
		s.Duration = *p.Duration
	}
	if p.PlaybackRate != nil && ValidRate(*p.PlaybackRate) {
		s.PlaybackRate = *p.PlaybackRate
	}
	if p.AudioURL != nil {
		s.AudioURL = *p.AudioURL
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.CoverImage != nil {
		s.CoverImage = *p.CoverImage
	}
	if p.CurrentChapter != nil {
		s.CurrentChapter = *p.CurrentChapter
	}
	if p.AudiobookID != nil {
		s.AudiobookID = *p.AudiobookID
	}
}

// Snapshot returns a patch carrying every field of the state, used for the
// state-response message and the pop-out bootstrap.
func (s State) Snapshot() Patch {
	st := s
	return Patch{
		IsPlaying:      &st.IsPlaying,
		CurrentTime:    &st.CurrentTime,
		Duration:       &st.Duration,
		PlaybackRate:   &st.PlaybackRate,
		AudioURL:       &st.AudioURL,
		Title:          &st.Title,
		CoverImage:     &st.CoverImage,
		CurrentChapter: &st.CurrentChapter,
		AudiobookID:    &st.AudiobookID,
	}
}

// ClampTime clamps a seek target to [0, duration]. A zero or unknown
// duration only clamps the lower bound, since the upper bound is not known
// until metadata loads.
func ClampTime(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if duration > 0 && t > duration {
		return duration
	}
	return t
}

// ValidRate reports whether r is a member of the fixed rate menu.
func ValidRate(r float64) bool {
	for _, v := range Rates {
		if v == r {
			return true
		}
	}
	return false
}

// Helper constructors for patch fields.

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// String returns a pointer to s.
func String(s string) *string { return &s }
