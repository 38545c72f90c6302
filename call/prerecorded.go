package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/audio"
	"github.com/callpilot-ai/callpilot/dialogue"
	"github.com/callpilot-ai/callpilot/respond"
	"github.com/callpilot-ai/callpilot/speech"
)

// clipLines are the fixed script lines rendered into canned clips.
func clipLines(script *dialogue.ScriptPack) map[dialogue.Topic]string {
	return map[dialogue.Topic]string{
		dialogue.TopicOpening:       script.Opening,
		dialogue.TopicClarify:       respond.ClarifyLine,
		dialogue.TopicClosing:       script.ClosingLine,
		dialogue.TopicNeutralClose:  script.NeutralClose,
		dialogue.TopicVoicemailDrop: script.VoicemailMessage,
	}
}

// PrerecordedClips renders the fixed script lines into canned audio,
// once at startup. Sessions fall back to these clips when synthesis
// fails or misses its first-byte budget mid-call. A topic that fails
// to render falls back to a prompt tone, so every entry plays
// something.
func PrerecordedClips(ctx context.Context, tts speech.TTSProvider, script *dialogue.ScriptPack, voice string, sampleRate int, logger *zap.Logger) map[dialogue.Topic][]audio.Frame {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	clips := make(map[dialogue.Topic][]audio.Frame)
	for topic, line := range clipLines(script) {
		if line == "" {
			continue
		}
		frames, err := renderClip(ctx, tts, line, voice, sampleRate)
		if err != nil || len(frames) == 0 {
			logger.Warn("clip synthesis failed, using prompt tone",
				zap.String("topic", string(topic)), zap.Error(err))
			frames = audio.ToneClip(sampleRate, 1200*time.Millisecond)
		}
		clips[topic] = frames
	}
	return clips
}

func renderClip(ctx context.Context, tts speech.TTSProvider, line, voice string, sampleRate int) ([]audio.Frame, error) {
	clipCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := tts.Synthesize(clipCtx, &speech.TTSRequest{
		Text:       line,
		Voice:      voice,
		SampleRate: sampleRate,
	})
	if err != nil {
		return nil, err
	}

	var frames []audio.Frame
	for {
		select {
		case f, ok := <-stream.Frames():
			if !ok {
				return frames, stream.Err()
			}
			frames = append(frames, f)
		case <-clipCtx.Done():
			stream.Cancel()
			return nil, clipCtx.Err()
		}
	}
}
