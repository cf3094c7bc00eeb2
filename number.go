// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"fmt"
	"strings"
)

// DialPlan coerces locally formatted numbers into an internationally
// dialable (E.164 equivalent) form before a call is placed.
type DialPlan struct {
	// CountryCode without leading +, e.g. "44".
	CountryCode string
	// TrunkPrefix is the local dialing prefix replaced by the country code,
	// e.g. "0" turning 07123456789 into +447123456789.
	TrunkPrefix string
	// InternationalPrefix is the dialed-out prefix equivalent to +, e.g. "00".
	InternationalPrefix string
}

// DefaultDialPlan matches the UK numbering plan.
var DefaultDialPlan = DialPlan{
	CountryCode:         "44",
	TrunkPrefix:         "0",
	InternationalPrefix: "00",
}

// Normalize returns number in +<cc><subscriber> form.
//
// Formatting characters (spaces, dots, dashes, parens) are stripped first.
// Numbers already starting with + are kept, the international prefix is
// rewritten to +, and trunk-prefixed local numbers get the plan's country
// code. Bare digits are assumed to be already country coded.
func (p DialPlan) Normalize(number string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(number))

	if cleaned == "" {
		return "", ErrNoNumber
	}

	plus := strings.HasPrefix(cleaned, "+")
	digits := strings.TrimPrefix(cleaned, "+")
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrBadNumber, number)
		}
	}
	if digits == "" {
		return "", fmt.Errorf("%w: %q", ErrBadNumber, number)
	}

	switch {
	case plus:
		return "+" + digits, nil
	case p.InternationalPrefix != "" && strings.HasPrefix(digits, p.InternationalPrefix) && len(digits) > len(p.InternationalPrefix):
		return "+" + digits[len(p.InternationalPrefix):], nil
	case p.TrunkPrefix != "" && strings.HasPrefix(digits, p.TrunkPrefix) && len(digits) > len(p.TrunkPrefix):
		return "+" + p.CountryCode + digits[len(p.TrunkPrefix):], nil
	default:
		return "+" + digits, nil
	}
}
