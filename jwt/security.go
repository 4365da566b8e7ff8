package jwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxTokenSize caps token length before any parsing happens. JWTs in
// this system are well under 2KB; anything near the cap is hostile input.
const DefaultMaxTokenSize = 8192

var (
	// ErrTokenTooLarge is returned when a token exceeds the size cap.
	ErrTokenTooLarge = errors.New("token exceeds maximum size")
	// ErrMalformed is returned when a token fails structural checks or
	// cannot be decoded.
	ErrMalformed = errors.New("malformed token")
	// ErrAlgorithmNotAllowed is returned when the token header declares an
	// algorithm outside the allow-list, including "none".
	ErrAlgorithmNotAllowed = errors.New("token algorithm not allowed")
	// ErrMissingKeyID is returned when the token header carries no kid.
	ErrMissingKeyID = errors.New("token header missing kid")
)

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// preVerify runs the cheap structural checks that must pass before any
// cryptographic work: size cap, three dot-separated parts, decodable
// header, allow-listed asymmetric algorithm, present kid.
func preVerify(raw string, maxSize int) (*tokenHeader, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxTokenSize
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}
	if len(raw) > maxSize {
		return nil, ErrTokenTooLarge
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}
	for _, part := range parts[:2] {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment", ErrMalformed)
		}
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable header", ErrMalformed)
	}

	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: invalid header json", ErrMalformed)
	}

	switch Algorithm(header.Alg) {
	case AlgRS256, AlgES256:
	default:
		// "none" and every symmetric algorithm land here. Rejecting before
		// key lookup closes the algorithm-confusion class entirely.
		return nil, fmt.Errorf("%w: %q", ErrAlgorithmNotAllowed, header.Alg)
	}

	if strings.TrimSpace(header.Kid) == "" {
		return nil, ErrMissingKeyID
	}

	return &header, nil
}
