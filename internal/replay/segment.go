// Package replay rebuilds the turn-by-turn timeline of a live session from
// its raw interaction logs and renders each turn as playable media.
package replay

import (
	"slices"
	"strings"
	"time"

	"gwi.com/live-replay/internal/store"
)

// DefaultGapThreshold is the silence after which same-typed audio starts a new turn.
const DefaultGapThreshold = 2000 * time.Millisecond

// MinSegmentDuration floors the reported duration of a segment, in milliseconds.
const MinSegmentDuration int64 = 1000

type SegmentType string

const (
	SegmentUserSpeech      SegmentType = "user_speech"
	SegmentUserText        SegmentType = "user_text"
	SegmentUserAction      SegmentType = "user_action"
	SegmentAPIResponse     SegmentType = "api_response"
	SegmentAPITextResponse SegmentType = "api_text_response"
)

// Segment is one conversational turn. Times are epoch milliseconds.
type Segment struct {
	ID          int                    `json:"id"`
	Type        SegmentType            `json:"type"`
	StartTime   int64                  `json:"start_time"`
	EndTime     int64                  `json:"end_time"`
	Duration    int64                  `json:"duration"`
	AudioChunks []store.InteractionLog `json:"audio_chunks"`
	VideoFrames []store.InteractionLog `json:"video_frames"`
	// LogIDs lists every member log in scan order, media-bearing or not.
	LogIDs []int64 `json:"log_ids"`

	lastTimestamp int64
}

// HasMedia reports whether the segment holds any audio or video.
func (s *Segment) HasMedia() bool {
	return len(s.AudioChunks) > 0 || len(s.VideoFrames) > 0
}

// Segmenter groups interaction logs into segments. The zero value uses DefaultGapThreshold.
type Segmenter struct {
	GapThreshold time.Duration
}

func NewSegmenter(gap time.Duration) *Segmenter {
	return &Segmenter{GapThreshold: gap}
}

// GroupIntoConversationSegments segments logs with the default gap threshold.
func GroupIntoConversationSegments(logs []store.InteractionLog) []Segment {
	return (&Segmenter{}).Group(logs)
}

// segmentation holds the mutable state of one scan.
type segmentation struct {
	gapMillis int64
	nextID    int
	open      *Segment
	closed    []Segment
}

// Group runs one forward scan over logs. The input slice is not modified and
// the result is a pure function of its contents.
func (s *Segmenter) Group(logs []store.InteractionLog) []Segment {
	if len(logs) == 0 {
		return []Segment{}
	}
	ordered := slices.Clone(logs)
	store.SortInteractions(ordered)

	gap := s.GapThreshold
	if gap <= 0 {
		gap = DefaultGapThreshold
	}
	scan := &segmentation{gapMillis: gap.Milliseconds(), nextID: 1}

	for _, entry := range ordered {
		ts := store.TimestampMillis(entry.Timestamp)
		switch entry.InteractionType {
		case store.InteractionAudioChunk:
			target := SegmentAPIResponse
			if entry.Metadata.MicrophoneOn != nil && *entry.Metadata.MicrophoneOn {
				target = SegmentUserSpeech
			}
			scan.audio(entry, ts, target)
		case store.InteractionAPIResponse:
			if IsAudioResponse(entry) {
				scan.audio(entry, ts, SegmentAPIResponse)
				continue
			}
			if scan.open != nil && (scan.open.Type == SegmentUserSpeech || scan.open.Type == SegmentAPIResponse) {
				scan.append(entry, ts)
				continue
			}
			scan.start(SegmentAPITextResponse, ts)
			scan.append(entry, ts)
		case store.InteractionTextInput:
			scan.start(SegmentUserText, ts)
			scan.append(entry, ts)
		case store.InteractionUserAction:
			if scan.open == nil {
				scan.start(SegmentUserAction, ts)
			}
			scan.append(entry, ts)
		case store.InteractionVideoFrame:
			if scan.open == nil {
				scan.start(SegmentUserSpeech, ts)
			}
			scan.open.VideoFrames = append(scan.open.VideoFrames, entry)
			scan.append(entry, ts)
		}
	}
	scan.finalize()

	out := make([]Segment, 0, len(scan.closed))
	for _, seg := range scan.closed {
		if seg.HasMedia() {
			out = append(out, seg)
		}
	}
	return out
}

// audio places an audio-bearing log: a new segment opens when none is open,
// the open one has another type, or the silence since its last log exceeds the gap.
func (s *segmentation) audio(entry store.InteractionLog, ts int64, target SegmentType) {
	if s.open == nil || s.open.Type != target || ts-s.open.lastTimestamp > s.gapMillis {
		s.start(target, ts)
	}
	s.open.AudioChunks = append(s.open.AudioChunks, entry)
	s.append(entry, ts)
}

func (s *segmentation) start(kind SegmentType, ts int64) {
	s.finalize()
	s.open = &Segment{
		ID:            s.nextID,
		Type:          kind,
		StartTime:     ts,
		lastTimestamp: ts,
	}
	s.nextID++
}

func (s *segmentation) append(entry store.InteractionLog, ts int64) {
	s.open.LogIDs = append(s.open.LogIDs, entry.ID)
	s.open.lastTimestamp = ts
}

func (s *segmentation) finalize() {
	if s.open == nil {
		return
	}
	seg := s.open
	seg.EndTime = seg.lastTimestamp
	seg.Duration = max(MinSegmentDuration, seg.EndTime-seg.StartTime)
	s.closed = append(s.closed, *seg)
	s.open = nil
}

// IsAudioResponse reports whether an api_response log carries model audio
// rather than a text delta.
func IsAudioResponse(entry store.InteractionLog) bool {
	md := entry.Metadata
	if strings.EqualFold(md.ResponseType, "audio") {
		return true
	}
	if strings.HasPrefix(strings.ToLower(md.MimeType), "audio/") {
		return true
	}
	return strings.Contains(strings.ToLower(entry.MediaReference), ".pcm")
}
