package replay

import (
	"fmt"
	"time"

	"gwi.com/live-replay/internal/store"
)

const t0 int64 = 1_700_000_000_000

func at(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

func micChunk(id, ms int64) store.InteractionLog {
	return store.InteractionLog{
		ID: id, SessionID: "sess", InteractionType: store.InteractionAudioChunk, Timestamp: at(ms),
		Metadata:       store.InteractionMetadata{MicrophoneOn: boolPtr(true)},
		MediaReference: fmt.Sprintf("gs://media/sess/raw/audio_chunk/%d.pcm", id),
	}
}

func modelChunk(id, ms int64) store.InteractionLog {
	return store.InteractionLog{
		ID: id, SessionID: "sess", InteractionType: store.InteractionAudioChunk, Timestamp: at(ms),
		Metadata:       store.InteractionMetadata{MicrophoneOn: boolPtr(false)},
		MediaReference: fmt.Sprintf("gs://media/sess/raw/audio_chunk/%d.pcm", id),
	}
}

func audioResponse(id, ms int64) store.InteractionLog {
	return store.InteractionLog{
		ID: id, SessionID: "sess", InteractionType: store.InteractionAPIResponse, Timestamp: at(ms),
		Metadata:       store.InteractionMetadata{ResponseType: "audio", MimeType: "audio/pcm"},
		MediaReference: fmt.Sprintf("gs://media/sess/raw/api_response/%d.pcm", id),
	}
}

func textResponse(id, ms int64) store.InteractionLog {
	return store.InteractionLog{
		ID: id, SessionID: "sess", InteractionType: store.InteractionAPIResponse, Timestamp: at(ms),
		Metadata: store.InteractionMetadata{ResponseType: "text", Text: "hello"},
	}
}

func textInput(id, ms int64) store.InteractionLog {
	return store.InteractionLog{
		ID: id, SessionID: "sess", InteractionType: store.InteractionTextInput, Timestamp: at(ms),
		Metadata: store.InteractionMetadata{Text: "hi"},
	}
}

func userAction(id, ms int64) store.InteractionLog {
	return store.InteractionLog{
		ID: id, SessionID: "sess", InteractionType: store.InteractionUserAction, Timestamp: at(ms),
		Metadata: store.InteractionMetadata{ActionType: "camera_on"},
	}
}

func videoFrame(id, ms int64) store.InteractionLog {
	return store.InteractionLog{
		ID: id, SessionID: "sess", InteractionType: store.InteractionVideoFrame, Timestamp: at(ms),
		Metadata:       store.InteractionMetadata{MimeType: "image/jpeg"},
		MediaReference: fmt.Sprintf("gs://media/sess/raw/video_frame/%d.jpg", id),
	}
}

func ids(logs []store.InteractionLog) []int64 {
	out := make([]int64, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.ID)
	}
	return out
}
