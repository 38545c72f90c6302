package call

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot/dialogue"
)

func TestPrerecordedClipsRendersEveryTopic(t *testing.T) {
	t.Parallel()

	script := dialogue.DefaultScriptPack()
	clips := PrerecordedClips(context.Background(), &fakeTTS{}, script, "ava", 16000, nil)

	for _, topic := range []dialogue.Topic{
		dialogue.TopicOpening, dialogue.TopicClarify, dialogue.TopicClosing,
		dialogue.TopicNeutralClose, dialogue.TopicVoicemailDrop,
	} {
		assert.NotEmpty(t, clips[topic], "topic %s", topic)
	}
}

func TestPrerecordedClipsToneFallbackWhenSynthesisFails(t *testing.T) {
	t.Parallel()

	script := dialogue.DefaultScriptPack()
	clips := PrerecordedClips(context.Background(), downTTS{}, script, "", 16000, nil)

	require.NotEmpty(t, clips)
	for topic, frames := range clips {
		require.NotEmpty(t, frames, "topic %s", topic)
		assert.Greater(t, frames[0].RMS(), 0.01, "tone clip for %s must carry energy", topic)
	}
}
