package smbios

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// All identity randomness comes from crypto/rand. Activation systems
// correlate identity uniqueness, so a predictable source is not an
// acceptable substitute.

const alphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomInt(n int) (int, error) {
	value, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to draw randomness: %w", err)
	}

	return int(value.Int64()), nil
}

// randomIntRange returns a random integer in [min, max], both inclusive.
func randomIntRange(min, max int) (int, error) {
	value, err := randomInt(max - min + 1)
	if err != nil {
		return 0, err
	}

	return min + value, nil
}

func randomChoice(choices []string) (string, error) {
	index, err := randomInt(len(choices))
	if err != nil {
		return "", err
	}

	return choices[index], nil
}

func randomBytes(n int) ([]byte, error) {
	raw := make([]byte, n)

	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to draw randomness: %w", err)
	}

	return raw, nil
}

func randomAlphanumeric(length int) (string, error) {
	result := make([]byte, length)

	for i := range result {
		index, err := randomInt(len(alphanumericAlphabet))
		if err != nil {
			return "", err
		}

		result[i] = alphanumericAlphabet[index]
	}

	return string(result), nil
}
