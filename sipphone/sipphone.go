// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package sipphone is a SIP softphone provider for softcall, built on sipgo.
// It drives the signaling plane only: INVITE, CANCEL, BYE and re-INVITE hold.
// The media plane is whatever the far end negotiates; this adapter offers a
// single PCMU audio line.
package sipphone

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/martyn-hash/softcall"
)

// Config describes the SIP account and local transport.
type Config struct {
	// UserAgent is the local user part, used in From and Contact.
	UserAgent string

	// Transport is udp (default) or tcp.
	Transport string
	BindHost  string
	BindPort  int

	// ExternalHost overrides the advertised host when behind NAT.
	ExternalHost string

	// Registrar is the host[:port] to REGISTER against. Empty skips
	// registration and provisioning becomes a local no-op.
	Registrar string
	Username  string
	Password  string
	// Expiry for registration. Default 5 minutes.
	Expiry time.Duration
}

func (c *Config) withDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "softcall"
	}
	if c.Transport == "" {
		c.Transport = "udp"
	}
	if c.BindHost == "" {
		c.BindHost = "127.0.0.1"
	}
	if c.BindPort == 0 {
		c.BindPort = 5060
	}
	if c.ExternalHost == "" {
		c.ExternalHost = c.BindHost
	}
	if c.Expiry == 0 {
		c.Expiry = 5 * time.Minute
	}
}

type Provider struct {
	conf Config
	log  *slog.Logger
}

type ProviderOption func(p *Provider)

func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.log = l
	}
}

func NewProvider(conf Config, opts ...ProviderOption) *Provider {
	conf.withDefaults()
	p := &Provider{
		conf: conf,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Provision registers the account against the configured registrar. Without
// a registrar this is a no-op returning the static credentials.
func (p *Provider) Provision(ctx context.Context) (softcall.ProviderCredentials, error) {
	creds := softcall.ProviderCredentials{
		Username: p.conf.Username,
		Password: p.conf.Password,
		Realm:    p.conf.Registrar,
	}
	if p.conf.Registrar == "" {
		return creds, nil
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(p.conf.UserAgent))
	if err != nil {
		return softcall.ProviderCredentials{}, err
	}
	defer ua.Close()

	client, err := sipgo.NewClient(ua, sipgo.WithClientNAT())
	if err != nil {
		return softcall.ProviderCredentials{}, err
	}
	defer client.Close()

	recipient := sip.Uri{Scheme: "sip", User: p.conf.Username, Host: p.conf.Registrar}
	if host, port, err := sip.ParseAddr(p.conf.Registrar); err == nil && port != 0 {
		recipient.Host = host
		recipient.Port = port
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	expiry, err := p.register(ctx, client, recipient)
	if err != nil {
		return softcall.ProviderCredentials{}, err
	}

	creds.Expires = time.Now().Add(expiry)
	p.log.Info("SIP registration done", "registrar", p.conf.Registrar, "expiry", expiry)
	return creds, nil
}

func (p *Provider) register(ctx context.Context, client *sipgo.Client, recipient sip.Uri) (time.Duration, error) {
	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{
			Scheme:    "sip",
			User:      p.conf.UserAgent,
			Host:      p.conf.ExternalHost,
			Port:      p.conf.BindPort,
			UriParams: sip.NewParams(),
		},
	})
	expires := sip.ExpiresHeader(p.conf.Expiry.Seconds())
	req.AppendHeader(&expires)

	res, err := client.Do(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("register transaction failed: %w", err)
	}

	if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
		res, err = client.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
			Username: p.conf.Username,
			Password: p.conf.Password,
		})
		if err != nil {
			return 0, fmt.Errorf("register digest auth failed: %w", err)
		}
	}

	if res.StatusCode != sip.StatusOK {
		return 0, fmt.Errorf("register rejected: %s", res.StartLine())
	}

	expiry := p.conf.Expiry
	if h := res.GetHeader("Expires"); h != nil {
		if val, err := strconv.Atoi(h.Value()); err == nil {
			expiry = time.Duration(val) * time.Second
		}
	}
	return expiry, nil
}

// Connect builds the live softphone connection: a UA with a client for
// outbound requests and a server listening for in-dialog requests (BYE).
func (p *Provider) Connect(ctx context.Context, creds softcall.ProviderCredentials) (softcall.ProviderConnection, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(p.conf.UserAgent))
	if err != nil {
		return nil, err
	}

	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, err
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, err
	}

	conn := &Connection{
		conf:   p.conf,
		creds:  creds,
		ua:     ua,
		client: client,
		server: server,
		log:    p.log,
	}
	if err := conn.serve(); err != nil {
		ua.Close()
		return nil, err
	}
	return conn, nil
}
