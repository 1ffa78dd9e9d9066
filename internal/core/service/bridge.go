package service

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/port"
)

// StreamBridge connects local capture to the peer connection's outbound
// senders and fans inbound remote tracks out to subscribers.
type StreamBridge struct {
	pc  port.PeerConnection
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[int]func(port.RemoteTrack)
	nextID int
}

func NewStreamBridge(pc port.PeerConnection, log zerolog.Logger) *StreamBridge {
	b := &StreamBridge{
		pc:   pc,
		log:  log.With().Str("component", "bridge").Logger(),
		subs: make(map[int]func(port.RemoteTrack)),
	}
	pc.OnTrack(b.deliver)
	return b
}

// AttachLocal adds each track to the peer connection unless a sender
// already carries a track with the same id. Re-attaching the same stream
// after a reconnect is therefore harmless.
func (b *StreamBridge) AttachLocal(tracks []port.LocalTrack) error {
	attached := make(map[string]bool)
	for _, s := range b.pc.Senders() {
		attached[s.TrackID()] = true
	}

	for _, t := range tracks {
		if attached[t.ID()] {
			b.log.Debug().Str("track_id", t.ID()).Msg("Track already attached, skipping")
			continue
		}
		if _, err := b.pc.AddTrack(t); err != nil {
			return fmt.Errorf("attach track %s: %w", t.ID(), err)
		}
		attached[t.ID()] = true
		b.log.Debug().Str("track_id", t.ID()).Str("kind", string(t.Kind())).Msg("Local track attached")
	}
	return nil
}

// SubscribeRemote registers a handler for inbound tracks and returns its
// cancel function. Handlers are isolated: one panicking does not stop
// delivery to the rest.
func (b *StreamBridge) SubscribeRemote(handler func(port.RemoteTrack)) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *StreamBridge) deliver(track port.RemoteTrack) {
	b.mu.Lock()
	handlers := make([]func(port.RemoteTrack), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Str("track_id", track.ID()).Msg("Remote track handler panicked")
				}
			}()
			h(track)
		}()
	}
}
