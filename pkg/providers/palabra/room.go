package palabra

import (
	"context"
	"time"
)

// RoomSession is the media-room surface the adapter drives. The LiveKit
// implementation is the production one; tests script their own.
type RoomSession interface {
	// Connect joins the room at url using the publisher token.
	Connect(ctx context.Context, url, token string) error

	// PublishData sends one reliable data message to the room.
	PublishData(payload []byte) error

	// PublishAudioSample writes one encoded media frame to the
	// published audio track.
	PublishAudioSample(frame []byte, duration time.Duration) error

	// SetDataHandler registers the receiver for inbound data messages.
	// Must be called before Connect.
	SetDataHandler(fn func(payload []byte))

	// SetDisconnectHandler registers the receiver for room loss.
	SetDisconnectHandler(fn func(err error))

	Close() error
}

// RoomFactory mints a fresh room session per connect.
type RoomFactory func() RoomSession
