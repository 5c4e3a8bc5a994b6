package signature_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/simbridge/simbridge/internal/webhook/domain"
	"github.com/simbridge/simbridge/internal/webhook/signature"
)

const secret = "whsec_test_secret"

var payload = []byte(`{"event_type":"payment.confirmed","payment_reference":"pi_123"}`)

func TestVerifyAcceptsFreshSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := signature.BuildHeader(secret, payload, now.Unix())

	if err := signature.Verify(secret, payload, header, now, 5*time.Minute); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Within tolerance either direction.
	if err := signature.Verify(secret, payload, header, now.Add(4*time.Minute), 5*time.Minute); err != nil {
		t.Fatalf("verify with drift: %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := signature.BuildHeader(secret, payload, now.Unix())

	cases := []struct {
		name    string
		secret  string
		payload []byte
		header  string
		now     time.Time
	}{
		{"tampered payload", secret, []byte(`{"payment_reference":"pi_999"}`), header, now},
		{"wrong secret", "whsec_other", payload, header, now},
		{"expired timestamp", secret, payload, header, now.Add(6 * time.Minute)},
		{"future timestamp", secret, payload, signature.BuildHeader(secret, payload, now.Add(10*time.Minute).Unix()), now},
		{"missing header", secret, payload, "", now},
		{"missing secret", "", payload, header, now},
		{"garbage header", secret, payload, "not-a-signature", now},
		{"missing v1", secret, payload, fmt.Sprintf("t=%d", now.Unix()), now},
		{"non-numeric timestamp", secret, payload, "t=abc,v1=deadbeef", now},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := signature.Verify(tc.secret, tc.payload, tc.header, tc.now, 5*time.Minute)
			if !errors.Is(err, domain.ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestVerifyAcceptsAnyMatchingV1(t *testing.T) {
	// During secret rotation a gateway may send two v1 entries; one match is
	// enough.
	now := time.Unix(1700000000, 0)
	good := signature.Compute(secret, payload, now.Unix())
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), "0000", good)

	if err := signature.Verify(secret, payload, header, now, 5*time.Minute); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
