package link

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// codeAlphabet omits visually ambiguous characters (0/O, 1/I/L)
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const codeLength = 6

// DefaultCodeTTL is how long an issued verification code stays redeemable
const DefaultCodeTTL = 5 * time.Minute

// ErrCodeSpaceExhausted is returned when repeated generation attempts all
// collided with live codes. With a 31^6 space this should never happen.
var ErrCodeSpaceExhausted = errors.New("could not generate a unique verification code")

// Issuer hands out short-lived verification codes. A code maps to the game
// identity that requested it; looking a code up never extends its lifetime.
type Issuer struct {
	codes *expirable.LRU[string, string]
}

// NewIssuer creates an Issuer whose codes expire after ttl
func NewIssuer(ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &Issuer{
		codes: expirable.NewLRU[string, string](500, nil, ttl),
	}
}

// Issue generates a new code for playerName. On the unlikely collision with
// a live code it regenerates, bounded to a few attempts.
func (i *Issuer) Issue(playerName string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, live := i.codes.Get(code); live {
			continue
		}
		i.codes.Add(code, playerName)
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// Lookup returns the player name a live code was issued to. Expired and
// unknown codes are indistinguishable to the caller.
func (i *Issuer) Lookup(code string) (string, bool) {
	return i.codes.Get(code)
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for n, b := range buf {
		buf[n] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
