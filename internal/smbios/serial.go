package smbios

import (
	"fmt"
	"strings"
)

// base34Alphabet is the digit set used by Apple's checksum-bearing
// encodings: 0-9A-Z with the easily confused I and O removed.
const base34Alphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// serialYearAlphabet encodes the production year's last digit plus which
// half of the year the unit was made in: two consecutive symbols per
// year digit, the second one used when the week is past 26.
const serialYearAlphabet = "CDFGHJKLMNPQRSTVWXYZ"

const (
	maxWeek       = 52
	halfYearWeeks = 26
	maxLineNumber = 3400
)

// appleSerial encodes a 12-character serial:
//
//	CCC Y W LLL MMMM
//
// where CCC is the manufacturing country code, Y the year character, W a
// single base-34 week digit (weeks past 26 are stored offset by 26, the
// year character carries the half), LLL the production line number in
// base-34 and MMMM the model's manufacturing code.
func appleSerial(params modelParams) (string, error) {
	country, err := randomChoice(params.countryCodes)
	if err != nil {
		return "", err
	}
	code, err := randomChoice(params.serialCodes)
	if err != nil {
		return "", err
	}

	year, err := randomIntRange(params.minYear, params.maxYear)
	if err != nil {
		return "", err
	}
	week, err := randomIntRange(1, maxWeek)
	if err != nil {
		return "", err
	}
	line, err := randomInt(maxLineNumber)
	if err != nil {
		return "", err
	}

	secondHalf := 0
	encodedWeek := week
	if week > halfYearWeeks {
		secondHalf = 1
		encodedWeek = week - halfYearWeeks
	}

	yearChar := serialYearAlphabet[(year%10)*2+secondHalf]
	weekChar := base34Alphabet[encodedWeek]

	return fmt.Sprintf("%s%c%c%s%s",
		country, yearChar, weekChar, encodeBase34(line, 3), code), nil
}

// appleMLB encodes an 18-character logic-board serial: a 17-character
// body followed by a checksum digit.
//
//	CCC Y WW PPP SS BBBBB 0 K
//
// CCC country code, Y last digit of the year, WW zero-padded week, PPP a
// line prefix, SS a suffix, BBBBB the model's board code, a literal zero
// and the checksum character K.
func appleMLB(params modelParams) (string, error) {
	country, err := randomChoice(params.countryCodes)
	if err != nil {
		return "", err
	}
	prefix, err := randomChoice(mlbLinePrefixes)
	if err != nil {
		return "", err
	}
	suffix, err := randomChoice(mlbLineSuffixes)
	if err != nil {
		return "", err
	}
	board, err := randomChoice(params.boardCodes)
	if err != nil {
		return "", err
	}

	year, err := randomIntRange(params.minYear, params.maxYear)
	if err != nil {
		return "", err
	}
	week, err := randomIntRange(1, maxWeek)
	if err != nil {
		return "", err
	}

	body := fmt.Sprintf("%s%d%02d%s%s%s0",
		country, year%10, week, prefix, suffix, board)

	checksum, err := mlbChecksum(body)
	if err != nil {
		return "", err
	}

	return body + string(checksum), nil
}

// mlbChecksum computes the trailing checksum character over an MLB body:
// a positional weighted sum in base 34 with alternating weights 1 and 3
// (positions sharing the body length's parity weigh 3), reduced mod 34,
// negated and mapped back through the alphabet. This mirrors the
// validation the identity-verification ecosystem itself performs; a wrong
// checksum is treated as invalid silently, never rejected loudly.
func mlbChecksum(body string) (byte, error) {
	sum := 0

	for i := 0; i < len(body); i++ {
		index := strings.IndexByte(base34Alphabet, body[i])
		if index < 0 {
			return 0, fmt.Errorf("MLB body contains character %q outside the base-34 alphabet", body[i])
		}

		weight := 1
		if i%2 == len(body)%2 {
			weight = 3
		}

		sum += weight * index
	}

	return base34Alphabet[(34-sum%34)%34], nil
}

// VerifyMLB reports whether the MLB's trailing character matches the
// checksum recomputed over the preceding body.
func VerifyMLB(mlb string) bool {
	if len(mlb) != mlbLength {
		return false
	}

	checksum, err := mlbChecksum(mlb[:mlbLength-1])
	if err != nil {
		return false
	}

	return checksum == mlb[mlbLength-1]
}

func encodeBase34(value int, digits int) string {
	encoded := make([]byte, digits)

	for i := digits - 1; i >= 0; i-- {
		encoded[i] = base34Alphabet[value%34]
		value /= 34
	}

	return string(encoded)
}
