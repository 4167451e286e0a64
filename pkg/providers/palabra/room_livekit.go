package palabra

import (
	"context"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// liveKitRoom is the production RoomSession backed by the LiveKit SDK.
type liveKitRoom struct {
	mu           sync.Mutex
	room         *lksdk.Room
	track        *lksdk.LocalSampleTrack
	onData       func([]byte)
	onDisconnect func(error)
}

// NewLiveKitRoom returns the production room factory.
func NewLiveKitRoom() RoomSession {
	return &liveKitRoom{}
}

func (r *liveKitRoom) SetDataHandler(fn func([]byte)) {
	r.mu.Lock()
	r.onData = fn
	r.mu.Unlock()
}

func (r *liveKitRoom) SetDisconnectHandler(fn func(error)) {
	r.mu.Lock()
	r.onDisconnect = fn
	r.mu.Unlock()
}

func (r *liveKitRoom) Connect(ctx context.Context, url, token string) error {
	callback := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				user, ok := data.(*lksdk.UserDataPacket)
				if !ok {
					return
				}
				r.mu.Lock()
				fn := r.onData
				r.mu.Unlock()
				if fn != nil {
					payload := make([]byte, len(user.Payload))
					copy(payload, user.Payload)
					fn(payload)
				}
			},
		},
		OnDisconnected: func() {
			r.mu.Lock()
			fn := r.onDisconnect
			r.mu.Unlock()
			if fn != nil {
				fn(errorsx.New(errorsx.ReasonTransportClosed, "room disconnected"))
			}
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, callback)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportDial)
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	})
	if err != nil {
		room.Disconnect()
		return errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "microphone",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		room.Disconnect()
		return errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
	}

	r.mu.Lock()
	r.room = room
	r.track = track
	r.mu.Unlock()
	return nil
}

func (r *liveKitRoom) PublishData(payload []byte) error {
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == nil {
		return errorsx.New(errorsx.ReasonTransportClosed, "room not connected")
	}
	err := room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
	)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (r *liveKitRoom) PublishAudioSample(frame []byte, duration time.Duration) error {
	r.mu.Lock()
	track := r.track
	r.mu.Unlock()
	if track == nil {
		return errorsx.New(errorsx.ReasonTransportClosed, "audio track not published")
	}
	err := track.WriteSample(media.Sample{Data: frame, Duration: duration}, nil)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (r *liveKitRoom) Close() error {
	r.mu.Lock()
	room := r.room
	r.room = nil
	r.track = nil
	r.mu.Unlock()
	if room != nil {
		room.Disconnect()
	}
	return nil
}
