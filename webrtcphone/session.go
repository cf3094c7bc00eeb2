// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webrtcphone

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/martyn-hash/softcall"
)

// Session is one outbound WebRTC call: a peer connection with a single PCMU
// track, controlled through the signaling channel.
type Session struct {
	conn   *Connection
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
	track  *webrtc.TrackLocalStaticRTP
	remote RemoteCall

	events chan softcall.SessionEvent

	mu       sync.Mutex
	answered bool
	muted    bool
	disposed bool
}

func dial(ctx context.Context, conn *Connection, number string) (*Session, error) {
	pc, err := webrtcAPI.NewPeerConnection(webrtcConfig)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU}, "audio", "softcall")
	if err != nil {
		pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	remote, err := conn.signaler.Dial(ctx, number, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("signaling dial: %w", err)
	}

	s := &Session{
		conn:   conn,
		pc:     pc,
		sender: sender,
		track:  track,
		remote: remote,
		events: make(chan softcall.SessionEvent, 16),
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		conn.log.Debug("ICE connection state changed", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			s.emit(softcall.SessionEvent{Kind: softcall.EventFailed, Err: fmt.Errorf("ICE connection failed")})
		}
	})

	// Pion requires the sender RTCP to be drained for interceptors to run.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	go s.run()
	return s, nil
}

// run bridges the signaling channel onto the provider event stream.
func (s *Session) run() {
	s.emit(softcall.SessionEvent{Kind: softcall.EventProgress})

	answerCh := s.remote.Answer()
	for {
		select {
		case answer, ok := <-answerCh:
			if !ok {
				if s.isAnswered() {
					// Channel closed after delivering the answer; wait for
					// the termination signal.
					answerCh = nil
					continue
				}
				s.emit(softcall.SessionEvent{Kind: softcall.EventTerminated})
				return
			}
			if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer,
				SDP:  answer,
			}); err != nil {
				s.emit(softcall.SessionEvent{Kind: softcall.EventFailed, Err: fmt.Errorf("applying answer: %w", err)})
				return
			}
			s.mu.Lock()
			s.answered = true
			s.mu.Unlock()
			s.emit(softcall.SessionEvent{Kind: softcall.EventAnswered})
			answerCh = nil

		case reason, ok := <-s.remote.Terminated():
			if !ok {
				s.emit(softcall.SessionEvent{Kind: softcall.EventTerminated})
				return
			}
			s.emit(softcall.SessionEvent{Kind: softcall.EventTerminated, Reason: reason})
			return
		}
	}
}

func (s *Session) Events() <-chan softcall.SessionEvent { return s.events }

func (s *Session) isAnswered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered
}

func (s *Session) emit(ev softcall.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.conn.log.Warn("Dropping session event, consumer too slow", "kind", string(ev.Kind))
	}
}

// Mute detaches the local track from the sender. Replacing with nil keeps the
// transceiver alive so unmute is a cheap re-attach.
func (s *Session) Mute(muted bool) error {
	var err error
	if muted {
		err = s.sender.ReplaceTrack(nil)
	} else {
		err = s.sender.ReplaceTrack(s.track)
	}
	if err != nil {
		return fmt.Errorf("replacing track: %w", err)
	}
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
	return nil
}

// Hold would need renegotiation support on the signaling channel.
func (s *Session) Hold(bool) error { return softcall.ErrNotSupported }

// Hangup ends the call over the signaling channel.
func (s *Session) Hangup(ctx context.Context) error {
	return s.remote.Hangup(ctx)
}

func (s *Session) Bye(ctx context.Context) error { return softcall.ErrNotSupported }

// Terminate drops the peer connection without involving the far side.
func (s *Session) Terminate(ctx context.Context) error {
	return s.pc.Close()
}

// Cancel abandons a still-ringing call; on an answered call hangup is the
// right verb.
func (s *Session) Cancel(ctx context.Context) error {
	if s.isAnswered() {
		return softcall.ErrNotSupported
	}
	return s.remote.Hangup(ctx)
}

// Dispose force-releases the peer connection and the signaling leg. Safe to
// call repeatedly.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	close(s.events)
	s.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		s.conn.log.Debug("Closing peer connection", "error", err)
	}
	if err := s.remote.Close(); err != nil {
		s.conn.log.Debug("Closing signaling leg", "error", err)
	}
}
