// Package media produces the local stream a peer attaches before offering
// or answering. Nothing here touches capture devices: audio is a stream of
// Opus silence frames and video repeats a single tiny keyframe once a second.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// FrameDuration is the Opus packetization interval.
const FrameDuration = 20 * time.Millisecond

// VideoInterval is how often the video keyframe is repeated.
const VideoInterval = time.Second

// opusSilence is a single Opus frame encoding 20 ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Keyframe is a complete 1x1 VP8 intra frame. A receiver only reports a
// remote track once RTP arrives on it, so the video track has to carry
// something.
var vp8Keyframe = []byte{
	0x30, 0x01, 0x00, 0x9d, 0x01, 0x2a, 0x01, 0x00, 0x01, 0x00, 0x0e,
	0xc0, 0xfe, 0x25, 0xa4, 0x00, 0x03, 0x70, 0x00, 0x00, 0x00, 0x00,
}

const videoEvery = int(VideoInterval / FrameDuration)

// Options controls Open.
type Options struct {
	// StreamID groups the tracks on the remote side.
	StreamID string
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Stream is a running synthetic stream.
type Stream struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	frames      atomic.Uint64
	videoFrames atomic.Uint64
	stop        chan struct{}
	once        sync.Once
	wg          sync.WaitGroup
	log         *slog.Logger
}

// Open creates the audio and video tracks and starts writing frames until
// ctx is done or the stream is closed. The first tick writes a video frame.
func Open(ctx context.Context, opts Options) (*Stream, error) {
	if opts.StreamID == "" {
		opts.StreamID = "peercall"
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", opts.StreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", opts.StreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	s := &Stream{
		audio: audio,
		video: video,
		stop:  make(chan struct{}),
		log:   opts.Logger.With("component", "media"),
	}

	ticker := opts.Clock.Ticker(FrameDuration)
	s.wg.Add(1)
	go s.pump(ctx, ticker)
	return s, nil
}

func (s *Stream) pump(ctx context.Context, ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		select {
		case <-ticker.C:
			if tick%videoEvery == 0 {
				s.writeVideo()
			}
			err := s.audio.WriteSample(media.Sample{Data: opusSilence, Duration: FrameDuration})
			if err != nil {
				s.log.Debug("write audio sample", "err", err)
				continue
			}
			s.frames.Add(1)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) writeVideo() {
	if err := s.video.WriteSample(media.Sample{Data: vp8Keyframe, Duration: VideoInterval}); err != nil {
		s.log.Debug("write video sample", "err", err)
		return
	}
	s.videoFrames.Add(1)
}

// Tracks returns the audio and video tracks.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

// Frames reports how many audio frames have been written.
func (s *Stream) Frames() uint64 { return s.frames.Load() }

// VideoFrames reports how many video frames have been written.
func (s *Stream) VideoFrames() uint64 { return s.videoFrames.Load() }

// Close stops the frame pump. It is safe to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}
