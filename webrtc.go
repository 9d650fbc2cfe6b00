package scanbridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog"
	"golang.org/x/image/vp8"

	"github.com/aymurapp/scanbridge/internal/logging"
	"github.com/aymurapp/scanbridge/internal/optical"
	"github.com/aymurapp/scanbridge/internal/scanwire"
)

// CameraSession is one WebRTC peer connection carrying a shell's camera
// stream into the decode loop. The daemon only ever receives video.
type CameraSession struct {
	peerConnection *webrtc.PeerConnection
	provider       *wsMediaProvider
	logger         *zerolog.Logger
	fps            int

	mu     sync.Mutex
	source *trackFrameSource
}

var (
	currentCameraSession *CameraSession
	cameraSessionLock    sync.Mutex
)

// trackFrameSource turns decoded VP8 key frames into the latest-frame slot
// the decode loop samples. Dropping stale frames is the point: the loop
// wants the freshest look at the counter, not a backlog.
type trackFrameSource struct {
	mu     sync.Mutex
	latest *optical.Frame
	seq    uint64
	closed bool

	stop      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

var _ optical.FrameSource = (*trackFrameSource)(nil)

func newTrackFrameSource(onClose func()) *trackFrameSource {
	return &trackFrameSource{
		stop:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *trackFrameSource) publish(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	s.latest = &optical.Frame{Image: img, Seq: s.seq, CapturedAt: time.Now()}
}

// Latest returns the freshest decoded frame.
func (s *trackFrameSource) Latest() (*optical.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, false
	}
	return s.latest, true
}

// Close stops the ingest and keyframe solicitation goroutines and tells
// the shell to tear its camera down.
func (s *trackFrameSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.latest = nil
		s.mu.Unlock()
		close(s.stop)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// newCameraSession builds the peer connection and wires the incoming
// video track into a frame source for the pending camera request.
func newCameraSession(provider *wsMediaProvider, fps int, logger *zerolog.Logger) (*CameraSession, error) {
	settingEngine := webrtc.SettingEngine{
		LoggerFactory: logging.GetPionDefaultLoggerFactory(),
	}

	var scopedLogger *zerolog.Logger
	if logger != nil {
		l := logger.With().Str("component", "webrtc").Logger()
		scopedLogger = &l
	} else {
		scopedLogger = &webrtcLogger
	}

	if fps < 1 {
		fps = optical.DefaultFramesPerSecond
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}
	session := &CameraSession{
		peerConnection: peerConnection,
		provider:       provider,
		logger:         scopedLogger,
		fps:            fps,
	}

	if _, err := peerConnection.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = peerConnection.Close()
		return nil, err
	}

	peerConnection.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		scopedLogger.Info().Str("codec", track.Codec().MimeType).Str("id", track.ID()).Msg("got remote track")

		if track.Kind() != webrtc.RTPCodecTypeVideo || track.Codec().MimeType != webrtc.MimeTypeVP8 {
			scopedLogger.Warn().Str("codec", track.Codec().MimeType).Msg("ignoring non-VP8 track")
			return
		}

		source := newTrackFrameSource(func() {
			GetEventBroadcaster().BroadcastCommand(scanwire.NewCameraStopCommand())
		})
		session.mu.Lock()
		session.source = source
		session.mu.Unlock()

		go session.ingestTrack(track, source)
		go session.solicitKeyFrames(track, source)

		if !session.provider.resolveTrack(source) {
			// Nobody asked for a camera; tear the stray stream down.
			_ = source.Close()
		}
	})

	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		scopedLogger.Info().Str("connectionState", connectionState.String()).Msg("ICE connection state has changed")

		// State changes on closing the browser tab go disconnected then
		// failed; close the peer connection ourselves.
		if connectionState == webrtc.ICEConnectionStateFailed {
			scopedLogger.Debug().Msg("ICE connection state is failed, closing peerConnection")
			_ = peerConnection.Close()
		}
		if connectionState == webrtc.ICEConnectionStateClosed {
			session.mu.Lock()
			source := session.source
			session.source = nil
			session.mu.Unlock()
			if source != nil {
				_ = source.Close()
			}

			cameraSessionLock.Lock()
			if currentCameraSession == session {
				currentCameraSession = nil
			}
			cameraSessionLock.Unlock()
		}
	})

	return session, nil
}

// ExchangeOffer answers a base64 SDP offer, waiting for ICE gathering so
// the answer carries every candidate and no trickle channel is needed.
func (s *CameraSession) ExchangeOffer(offerStr string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(offerStr)
	if err != nil {
		return "", err
	}
	offer := webrtc.SessionDescription{}
	if err = json.Unmarshal(b, &offer); err != nil {
		return "", err
	}
	if err = s.peerConnection.SetRemoteDescription(offer); err != nil {
		return "", err
	}

	answer, err := s.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.peerConnection)
	if err = s.peerConnection.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gatherComplete

	localDescription, err := json.Marshal(s.peerConnection.LocalDescription())
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(localDescription), nil
}

// Close tears down the peer connection and the frame source.
func (s *CameraSession) Close() error {
	s.mu.Lock()
	source := s.source
	s.source = nil
	s.mu.Unlock()
	if source != nil {
		_ = source.Close()
	}
	return s.peerConnection.Close()
}

var errInterFrame = errors.New("not a key frame")

// decodeKeyFrame decodes one reassembled VP8 payload. Inter frames are
// skipped: the decoder carries no reference state across samples, and the
// keyframe solicitation below keeps fresh ones coming at the decode rate.
func decodeKeyFrame(decoder *vp8.Decoder, data []byte) (image.Image, error) {
	decoder.Init(bytes.NewReader(data), len(data))
	fh, err := decoder.DecodeFrameHeader()
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, errInterFrame
	}
	return decoder.DecodeFrame()
}

// ingestTrack reassembles RTP packets into VP8 frames and publishes the
// decodable ones.
func (s *CameraSession) ingestTrack(track *webrtc.TrackRemote, source *trackFrameSource) {
	builder := samplebuilder.New(64, &codecs.VP8Packet{}, track.Codec().ClockRate)
	decoder := vp8.NewDecoder()

	for {
		select {
		case <-source.stop:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.logger.Debug().Err(err).Msg("video track read ended")
			_ = source.Close()
			return
		}
		builder.Push(pkt)

		for {
			sample := builder.Pop()
			if sample == nil {
				break
			}
			img, err := decodeKeyFrame(decoder, sample.Data)
			if err != nil {
				// Inter frames and truncated samples land here routinely.
				continue
			}
			source.publish(img)
		}
	}
}

// solicitKeyFrames asks the shell for a fresh key frame at the decode
// rate, since only key frames are decoded.
func (s *CameraSession) solicitKeyFrames(track *webrtc.TrackRemote, source *trackFrameSource) {
	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	for {
		select {
		case <-source.stop:
			return
		case <-ticker.C:
			err := s.peerConnection.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				s.logger.Debug().Err(err).Msg("keyframe request failed, stopping solicitation")
				return
			}
		}
	}
}
