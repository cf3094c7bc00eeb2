// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/martyn-hash/softcall"
)

// Connection is a live SIP endpoint: one client for outbound requests, one
// server receiving in-dialog requests. It drives at most one call at a time.
type Connection struct {
	conf   Config
	creds  softcall.ProviderCredentials
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server
	log    *slog.Logger

	cancelServe context.CancelFunc

	mu     sync.Mutex
	active *Session
	closed bool
}

// serve starts the listening side used to receive BYE for established calls.
func (c *Connection) serve() error {
	c.server.OnBye(func(req *sip.Request, tx sip.ServerTransaction) {
		sess := c.activeSession()
		if sess == nil || req.CallID() == nil || req.CallID().Value() != sess.callID {
			tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil))
			return
		}
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
		sess.remoteBye()
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelServe = cancel

	hostport := net.JoinHostPort(c.conf.BindHost, strconv.Itoa(c.conf.BindPort))
	go func() {
		if err := c.server.ListenAndServe(ctx, c.conf.Transport, hostport); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error("SIP listener stopped", "error", err, "addr", hostport)
		}
	}()
	return nil
}

// Call places an outbound INVITE towards number at the registrar (or the
// number's own host for direct sip URIs). ctx cancellation abandons the call
// with CANCEL while it is still ringing.
func (c *Connection) Call(ctx context.Context, number string) (softcall.ProviderSession, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("sipphone: connection closed")
	}
	if c.active != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("sipphone: call already active")
	}
	c.mu.Unlock()

	host := c.conf.Registrar
	if host == "" {
		host = c.conf.ExternalHost
	}
	recipient := sip.Uri{Scheme: "sip", User: number, Host: host}
	if h, port, err := sip.ParseAddr(host); err == nil && port != 0 {
		recipient.Host = h
		recipient.Port = port
	}

	sess := newSession(c, recipient, number, uuid.NewString())

	invite, err := sess.buildInvite()
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess.ctx = sessCtx
	sess.cancel = cancel

	// Stop the dial when the caller's dial context goes away.
	go func() {
		select {
		case <-ctx.Done():
			sess.cancelDial()
		case <-sessCtx.Done():
		}
	}()

	c.mu.Lock()
	c.active = sess
	c.mu.Unlock()

	go sess.runInvite(invite)
	return sess, nil
}

func (c *Connection) activeSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Connection) sessionDone(sess *Session) {
	c.mu.Lock()
	if c.active == sess {
		c.active = nil
	}
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	active := c.active
	c.mu.Unlock()

	if active != nil {
		active.Dispose()
	}
	if c.cancelServe != nil {
		c.cancelServe()
	}
	c.client.Close()
	c.ua.Close()
	return nil
}

// contactHeader is the advertised local contact for dialogs.
func (c *Connection) contactHeader() sip.ContactHeader {
	return sip.ContactHeader{
		Address: sip.Uri{
			Scheme:    "sip",
			User:      c.conf.UserAgent,
			Host:      c.conf.ExternalHost,
			Port:      c.conf.BindPort,
			UriParams: sip.NewParams(),
		},
	}
}
