package feedback

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	p := Safe(PlayerFunc(func(Cue) { panic("speaker unplugged") }), log.New(&buf, "", 0))

	require.NotPanics(t, func() { p.Play(CueTaskStart) })
	require.Contains(t, buf.String(), "speaker unplugged")
}

func TestSafeNilIsNop(t *testing.T) {
	require.NotPanics(t, func() { Safe(nil, nil).Play(CueCountdown) })
}

func TestLogPlayerAndRecorder(t *testing.T) {
	var buf bytes.Buffer
	LogPlayer{Logger: log.New(&buf, "", 0)}.Play(CueActivityComplete)
	require.Equal(t, "cue activity_complete\n", buf.String())

	rec := &Recorder{}
	rec.Play(CueCountdown)
	rec.Play(CueTaskComplete)
	require.Equal(t, []Cue{CueCountdown, CueTaskComplete}, rec.Cues())
}
