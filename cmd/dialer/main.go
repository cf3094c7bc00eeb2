// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// dialer is a terminal softphone: it dials one number through a SIP trunk,
// prints the call state once per second and hangs up on interrupt.
//
//	SIP_REGISTRAR=pbx.example.com SIP_USERNAME=100 SIP_PASSWORD=pass \
//	  dialer 07123456789
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/martyn-hash/softcall"
	"github.com/martyn-hash/softcall/sipphone"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lev, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	if len(os.Args) < 2 {
		log.Fatal().Msg("usage: dialer <number>")
	}
	number := os.Args[1]

	if err := run(ctx, number); err != nil {
		log.Fatal().Err(err).Msg("dialer failed")
	}
}

func run(ctx context.Context, number string) error {
	bindPort := 5060
	if v := os.Getenv("SIP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("bad SIP_PORT: %w", err)
		}
		bindPort = p
	}

	provider := sipphone.NewProvider(sipphone.Config{
		UserAgent: os.Getenv("SIP_USERNAME"),
		Transport: os.Getenv("SIP_TRANSPORT"),
		BindHost:  os.Getenv("SIP_BIND_HOST"),
		BindPort:  bindPort,
		Registrar: os.Getenv("SIP_REGISTRAR"),
		Username:  os.Getenv("SIP_USERNAME"),
		Password:  os.Getenv("SIP_PASSWORD"),
	})

	opts := []softcall.CallManagerOption{
		softcall.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))),
		softcall.WithHooks(softcall.Hooks{
			OnCallState: func(st softcall.CallState) {
				switch st.Status {
				case softcall.StatusConnected:
					log.Info().Str("number", st.PhoneNumber).Int("elapsed", st.ElapsedSeconds).Msg("Connected")
				default:
					log.Info().Str("number", st.PhoneNumber).Str("status", string(st.Status)).Msg("Call state")
				}
			},
			OnCallLogged: func(rec softcall.CommunicationRecord) {
				log.Info().Str("record_id", rec.ID).Msg("Call logged")
			},
			OnCallFailed: func(reason softcall.CallReason, err error) {
				log.Error().Err(err).Str("reason", string(reason)).Msg("Call failed")
			},
		}),
	}
	if base := os.Getenv("COMMS_URL"); base != "" {
		comms := softcall.NewHTTPCommunications(base, softcall.WithAuthToken(os.Getenv("COMMS_TOKEN")))
		opts = append(opts, softcall.WithCommunications(comms))
	}

	cm := softcall.NewCallManager(provider, opts...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cm.Close(closeCtx)
	}()

	cctx := softcall.CallContext{
		ClientID:    os.Getenv("CLIENT_ID"),
		PersonID:    os.Getenv("PERSON_ID"),
		PhoneNumber: number,
	}

	sess, err := cm.PlaceCall(ctx, number, cctx)
	if err != nil {
		return err
	}
	log.Info().Str("session_id", sess.ID()).Str("number", number).Msg("Dialing")

	select {
	case <-ctx.Done():
		log.Info().Msg("Interrupted, hanging up")
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cm.Hangup(hctx); err != nil {
			return err
		}
		<-sess.Done()
	case <-sess.Done():
	}

	st := sess.Snapshot()
	log.Info().Str("status", string(st.Status)).Int("duration", st.ElapsedSeconds).Msg("Call over")
	return nil
}
