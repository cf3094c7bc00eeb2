// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipphone

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// Media directions used in offers. Hold is signaled by re-offering sendonly.
const (
	dirSendRecv = "sendrecv"
	dirSendOnly = "sendonly"
)

// buildOffer produces a single-line PCMU audio offer. The adapter does not
// carry media itself, so the advertised port is a placeholder the far end can
// negotiate against.
func buildOffer(username, addr, direction string) ([]byte, error) {
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       username,
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "softcall",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: 4000},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0"},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "0 PCMU/8000"},
					{Key: direction},
				},
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling SDP: %w", err)
	}
	return body, nil
}
