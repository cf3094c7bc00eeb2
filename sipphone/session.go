// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipphone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/martyn-hash/softcall"
)

var errNotAnswered = errors.New("sipphone: call not answered")

// generateTag produces a From tag for dialog identification.
func generateTag() string {
	return uuid.NewString()[:8]
}

// Session is one outbound SIP call leg.
//
// Termination support: Hangup/Bye send an in-dialog BYE once answered,
// Cancel abandons a still-ringing INVITE with CANCEL, Dispose force-drops
// local state. Terminate and Mute are not supported on the signaling plane.
type Session struct {
	conn      *Connection
	recipient sip.Uri
	number    string
	callID    string
	localTag  string

	ctx    context.Context
	cancel context.CancelFunc

	events chan softcall.SessionEvent
	cseq   atomic.Uint32

	mu       sync.Mutex
	invite   *sip.Request
	okResp   *sip.Response
	answered bool
	held     bool
	disposed bool
}

func newSession(conn *Connection, recipient sip.Uri, number, callID string) *Session {
	s := &Session{
		conn:      conn,
		recipient: recipient,
		number:    number,
		callID:    callID,
		localTag:  generateTag(),
		events:    make(chan softcall.SessionEvent, 16),
	}
	s.cseq.Store(1)
	return s
}

func (s *Session) Events() <-chan softcall.SessionEvent { return s.events }

// emit delivers an event unless the session was disposed. Events are never
// allowed to block signaling; the channel is buffered well beyond anything a
// single call produces.
func (s *Session) emit(ev softcall.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.conn.log.Warn("Dropping session event, consumer too slow", "call_id", s.callID, "kind", string(ev.Kind))
	}
}

// buildInvite constructs the initial INVITE with a PCMU audio offer.
func (s *Session) buildInvite() (*sip.Request, error) {
	offer, err := buildOffer(s.conn.conf.UserAgent, s.conn.conf.ExternalHost, dirSendRecv)
	if err != nil {
		return nil, fmt.Errorf("building SDP offer: %w", err)
	}

	invite := sip.NewRequest(sip.INVITE, s.recipient)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", s.localTag)
	invite.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   s.conn.conf.UserAgent,
			Host:   s.conn.conf.ExternalHost,
			Port:   s.conn.conf.BindPort,
		},
		Params: fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{
		Address: s.recipient,
		Params:  sip.NewParams(),
	})

	callID := sip.CallIDHeader(s.callID)
	invite.AppendHeader(&callID)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseq.Load(), MethodName: sip.INVITE})

	contact := s.conn.contactHeader()
	invite.AppendHeader(&contact)

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(offer)

	s.mu.Lock()
	s.invite = invite
	s.mu.Unlock()
	return invite, nil
}

// runInvite drives the INVITE client transaction and maps SIP responses onto
// the provider event taxonomy.
func (s *Session) runInvite(invite *sip.Request) {
	tx, err := s.conn.client.TransactionRequest(s.ctx, invite)
	if err != nil {
		s.emit(softcall.SessionEvent{Kind: softcall.EventFailed, Err: fmt.Errorf("invite transaction: %w", err)})
		s.finish()
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			// Abandoned locally while ringing.
			s.sendCancel(invite)
			s.emit(softcall.SessionEvent{Kind: softcall.EventTerminated, Reason: softcall.ReasonCancelled})
			s.finish()
			return

		case res := <-tx.Responses():
			if res == nil {
				s.emit(softcall.SessionEvent{Kind: softcall.EventFailed, Err: errors.New("invite transaction ended without response")})
				s.finish()
				return
			}
			if done := s.handleInviteResponse(invite, res); done {
				return
			}

		case <-tx.Done():
			s.mu.Lock()
			answered := s.answered
			s.mu.Unlock()
			if answered {
				// Transaction terminates after 2xx; the dialog lives on.
				return
			}
			s.emit(softcall.SessionEvent{Kind: softcall.EventFailed, Err: errors.New("invite transaction terminated")})
			s.finish()
			return
		}
	}
}

// handleInviteResponse returns true once the transaction loop should stop.
func (s *Session) handleInviteResponse(invite *sip.Request, res *sip.Response) bool {
	status := res.StatusCode
	switch {
	case status == sip.StatusTrying:
		return false

	case status < 200:
		// 180/183 and friends are all connecting progress.
		s.emit(softcall.SessionEvent{Kind: softcall.EventProgress})
		return false

	case status < 300:
		if err := s.sendAck(invite, res); err != nil {
			// ACK failure does not negate the 200; the call is answered.
			s.conn.log.Error("Failed to send ACK", "call_id", s.callID, "error", err)
		}
		s.mu.Lock()
		s.okResp = res
		s.answered = true
		s.mu.Unlock()
		s.emit(softcall.SessionEvent{Kind: softcall.EventAnswered})
		return true

	default:
		s.emit(softcall.SessionEvent{Kind: softcall.EventTerminated, Reason: reasonForStatus(int(status))})
		s.finish()
		return true
	}
}

// reasonForStatus maps a SIP final failure response onto the call reason
// taxonomy.
func reasonForStatus(status int) softcall.CallReason {
	switch status {
	case 487: // Request Terminated: our own CANCEL got through
		return softcall.ReasonCancelled
	case 408, 480, 504: // timeouts, temporarily unavailable
		return softcall.ReasonFailedToConnect
	case 486, 600, 603: // busy / decline
		return softcall.ReasonRejected
	default:
		if status >= 500 {
			return softcall.ReasonFailed
		}
		return softcall.ReasonRejected
	}
}

// sendAck sends ACK for a 2xx. Per RFC 3261 it is a standalone request sent
// straight through the transport layer, addressed to the 2xx Contact.
func (s *Session) sendAck(invite *sip.Request, res *sip.Response) error {
	requestURI := invite.Recipient
	if contact := res.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := res.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if dest := res.Source(); dest != "" {
		ack.SetDestination(dest)
	}
	return s.conn.client.WriteRequest(ack)
}

// sendCancel cancels the in-progress INVITE per RFC 3261 section 9.1.
func (s *Session) sendCancel(invite *sip.Request) {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)
	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.conn.client.TransactionRequest(ctx, cancelReq)
	if err != nil {
		s.conn.log.Debug("Sending CANCEL failed", "call_id", s.callID, "error", err)
		return
	}
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
}

// buildInDialog constructs an in-dialog request (BYE, re-INVITE) towards the
// established dialog's remote target.
func (s *Session) buildInDialog(method sip.RequestMethod) (*sip.Request, error) {
	s.mu.Lock()
	invite, okResp := s.invite, s.okResp
	s.mu.Unlock()
	if okResp == nil {
		return nil, errNotAnswered
	}

	requestURI := invite.Recipient
	if contact := okResp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	req := sip.NewRequest(method, requestURI)
	sip.CopyHeaders("From", invite, req)
	sip.CopyHeaders("Call-ID", invite, req)
	if to := okResp.To(); to != nil {
		req.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseq.Add(1), MethodName: method})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	if dest := okResp.Source(); dest != "" {
		req.SetDestination(dest)
	}
	return req, nil
}

// do sends an in-dialog request and waits for its final response.
func (s *Session) do(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := s.conn.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				return nil, fmt.Errorf("transaction ended without response")
			}
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, fmt.Errorf("transaction terminated")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Mute needs the media plane; the signaling-only adapter cannot do it.
func (s *Session) Mute(bool) error { return softcall.ErrNotSupported }

// Hold re-INVITEs with a sendonly (resp. sendrecv) offer.
func (s *Session) Hold(held bool) error {
	dir := dirSendRecv
	if held {
		dir = dirSendOnly
	}
	offer, err := buildOffer(s.conn.conf.UserAgent, s.conn.conf.ExternalHost, dir)
	if err != nil {
		return err
	}

	req, err := s.buildInDialog(sip.INVITE)
	if err != nil {
		return err
	}
	contact := s.conn.contactHeader()
	req.AppendHeader(&contact)
	contentType := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&contentType)
	req.SetBody(offer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.do(ctx, req)
	if err != nil {
		return fmt.Errorf("hold re-invite: %w", err)
	}
	if res.StatusCode != sip.StatusOK {
		return fmt.Errorf("hold re-invite rejected: %s", res.StartLine())
	}
	if err := s.sendAck(req, res); err != nil {
		s.conn.log.Error("Failed to ACK re-invite", "call_id", s.callID, "error", err)
	}

	s.mu.Lock()
	s.held = held
	s.mu.Unlock()
	return nil
}

// Hangup gracefully ends an answered call. While still ringing the graceful
// method is CANCEL, which sits further down the cascade.
func (s *Session) Hangup(ctx context.Context) error {
	return s.Bye(ctx)
}

// Bye sends the in-dialog BYE.
func (s *Session) Bye(ctx context.Context) error {
	req, err := s.buildInDialog(sip.BYE)
	if err != nil {
		if errors.Is(err, errNotAnswered) {
			return softcall.ErrNotSupported
		}
		return err
	}

	res, err := s.do(ctx, req)
	if err != nil {
		return fmt.Errorf("bye: %w", err)
	}
	if res.StatusCode != sip.StatusOK {
		return fmt.Errorf("bye rejected: %s", res.StartLine())
	}
	s.finish()
	return nil
}

func (s *Session) Terminate(ctx context.Context) error { return softcall.ErrNotSupported }

// Cancel abandons a ringing call. The INVITE loop observes the context and
// sends the CANCEL itself.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	answered := s.answered
	s.mu.Unlock()
	if answered {
		return softcall.ErrNotSupported
	}
	s.cancelDial()
	return nil
}

func (s *Session) cancelDial() {
	if s.cancel != nil {
		s.cancel()
	}
}

// remoteBye is invoked by the connection's server side when the far end
// hangs up.
func (s *Session) remoteBye() {
	s.emit(softcall.SessionEvent{Kind: softcall.EventTerminated, Reason: softcall.ReasonCompleted})
	s.finish()
}

// finish detaches the session from the connection so a new call can be
// placed. Idempotent.
func (s *Session) finish() {
	s.conn.sessionDone(s)
}

// Dispose force-releases the session: cancels any in-flight dialing and
// closes the event stream. Safe to call repeatedly.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	close(s.events)
	s.mu.Unlock()

	s.cancelDial()
	s.finish()
}
