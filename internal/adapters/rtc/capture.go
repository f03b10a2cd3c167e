// Package rtc feeds pion sample tracks from media files on disk. It stands in
// for camera and microphone on headless participants.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

const oggPageDuration = 20 * time.Millisecond

var (
	ErrNoSource    = errors.New("no media source configured")
	ErrUnsupported = errors.New("unsupported codec")
)

// FileCapturer implements core.Capturer. VideoFile is an IVF file (VP8, VP9
// or AV1) and AudioFile an Ogg/Opus file. Both loop until the track stops.
type FileCapturer struct {
	VideoFile string
	AudioFile string
	StreamID  string
}

func NewFileCapturer(video, audio string) *FileCapturer {
	return &FileCapturer{VideoFile: video, AudioFile: audio, StreamID: "stage"}
}

func (c *FileCapturer) Capture(ctx context.Context, kind domain.TrackKind) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch kind {
	case domain.TrackVideo:
		return c.captureVideo()
	case domain.TrackAudio:
		return c.captureAudio()
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupported, kind)
	}
}

func (c *FileCapturer) captureVideo() (*SampleTrack, error) {
	if c.VideoFile == "" {
		return nil, ErrNoSource
	}
	f, err := os.Open(c.VideoFile)
	if err != nil {
		return nil, err
	}
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	mime, ok := ivfCodecs[header.FourCC]
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, header.FourCC)
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", c.StreamID)
	if err != nil {
		f.Close()
		return nil, err
	}
	t := newSampleTrack(domain.TrackVideo, local)
	frame := time.Millisecond * time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000)
	if frame <= 0 {
		frame = 33 * time.Millisecond
	}
	go t.pump(f, frame, func() ([]byte, time.Duration, error) {
		data, _, err := r.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if r, _, err = rewindIVF(f); err != nil {
				return nil, 0, err
			}
			data, _, err = r.ParseNextFrame()
		}
		return data, frame, err
	})
	return t, nil
}

func (c *FileCapturer) captureAudio() (*SampleTrack, error) {
	if c.AudioFile == "" {
		return nil, ErrNoSource
	}
	f, err := os.Open(c.AudioFile)
	if err != nil {
		return nil, err
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", c.StreamID)
	if err != nil {
		f.Close()
		return nil, err
	}
	t := newSampleTrack(domain.TrackAudio, local)
	var granule uint64
	go t.pump(f, oggPageDuration, func() ([]byte, time.Duration, error) {
		data, page, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if r, err = rewindOgg(f); err != nil {
				return nil, 0, err
			}
			granule = 0
			data, page, err = r.ParseNextPage()
		}
		if err != nil {
			return nil, 0, err
		}
		samples := page.GranulePosition - granule
		granule = page.GranulePosition
		return data, time.Duration(float64(samples)/48000*1000) * time.Millisecond, nil
	})
	return t, nil
}

var ivfCodecs = map[string]string{
	"VP80": webrtc.MimeTypeVP8,
	"VP90": webrtc.MimeTypeVP9,
	"AV01": webrtc.MimeTypeAV1,
}

func rewindIVF(f *os.File) (*ivfreader.IVFReader, *ivfreader.IVFFileHeader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	return ivfreader.NewWith(f)
}

func rewindOgg(f *os.File) (*oggreader.OggReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, _, err := oggreader.NewWith(f)
	return r, err
}

// SampleTrack is a captured track. It satisfies the livekit adapter's
// SampleTrack through TrackLocal.
type SampleTrack struct {
	id    string
	kind  domain.TrackKind
	local *webrtc.TrackLocalStaticSample
	log   zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newSampleTrack(kind domain.TrackKind, local *webrtc.TrackLocalStaticSample) *SampleTrack {
	id := uuid.NewString()
	return &SampleTrack{
		id:    id,
		kind:  kind,
		local: local,
		log:   log.With().Str("module", "webrtc").Str("track_id", id).Str("kind", string(kind)).Logger(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (t *SampleTrack) ID() string                    { return t.id }
func (t *SampleTrack) Kind() domain.TrackKind        { return t.kind }
func (t *SampleTrack) TrackLocal() webrtc.TrackLocal { return t.local }

// Stop ends the pump and closes the source file.
func (t *SampleTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *SampleTrack) pump(f *os.File, every time.Duration, next func() ([]byte, time.Duration, error)) {
	defer close(t.done)
	defer f.Close()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	t.log.Info().Str("source", f.Name()).Msg("capture started")
	for {
		select {
		case <-t.stop:
			t.log.Info().Msg("capture stopped")
			return
		case <-ticker.C:
		}
		data, d, err := next()
		if err != nil {
			t.log.Error().Err(err).Msg("read sample")
			return
		}
		if err := t.local.WriteSample(media.Sample{Data: data, Duration: d}); err != nil {
			t.log.Error().Err(err).Msg("write sample")
			return
		}
	}
}
