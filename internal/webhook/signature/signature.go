package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/simbridge/simbridge/internal/webhook/domain"
)

// Header carries the payment gateway's HMAC signature, in the familiar
// "t=<unix>,v1=<hex>" form.
const Header = "X-Payment-Signature"

// Verify checks payload against the shared secret. The signed timestamp must
// fall within tolerance of now to blunt replay of captured deliveries; the
// comparison itself is constant-time.
func Verify(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseHeader(header)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	signedAt := time.Unix(ts, 0)
	if tolerance > 0 {
		drift := now.Sub(signedAt)
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return domain.ErrInvalidSignature
		}
	}

	expected := Compute(secret, payload, ts)
	for _, candidate := range signatures {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

// Compute returns the hex HMAC for a timestamped payload. Exported for
// gateway simulators and tests.
func Compute(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildHeader renders the header a gateway would send.
func BuildHeader(secret string, payload []byte, timestamp int64) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, Compute(secret, payload, timestamp))
}

func parseHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return "", nil, domain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
