package webhookauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestChecksum_Format(t *testing.T) {
	sum := sha256.Sum256([]byte("cGF5bG9hZA==" + "/callback" + "salt"))
	want := hex.EncodeToString(sum[:]) + "###1"

	assert.Equal(t, want, Checksum("cGF5bG9hZA==", "/callback", "salt", "1"))
}

func TestChecksumAuthenticator(t *testing.T) {
	a := &ChecksumAuthenticator{Path: "/callback", SaltKey: "salt", SaltIndex: "1"}
	body := []byte(`{"response":"cGF5bG9hZA=="}`)
	valid := Checksum("cGF5bG9hZA==", "/callback", "salt", "1")

	tests := []struct {
		name   string
		header http.Header
		body   []byte
		ok     bool
		reason string
	}{
		{name: "valid", header: header("X-VERIFY", valid), body: body, ok: true},
		{name: "missing header", header: header(), body: body, reason: "missing X-VERIFY header"},
		{name: "wrong index", header: header("X-VERIFY", Checksum("cGF5bG9hZA==", "/callback", "salt", "2")), body: body, reason: "checksum mismatch"},
		{name: "tampered payload", header: header("X-VERIFY", valid), body: []byte(`{"response":"b3RoZXI="}`), reason: "checksum mismatch"},
		{name: "no envelope", header: header("X-VERIFY", valid), body: []byte(`not json`), reason: "missing response payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Verify(Request{Header: tt.header, Body: tt.body})
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestChecksumAuthenticator_NoSalt(t *testing.T) {
	a := &ChecksumAuthenticator{Path: "/callback"}
	res := a.Verify(Request{Header: header("X-VERIFY", "x###1"), Body: []byte(`{"response":"eA=="}`)})
	assert.False(t, res.OK)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHMACAuthenticator_Signature(t *testing.T) {
	a := &HMACAuthenticator{Secret: "whsec", SignatureHeader: "X-Razorpay-Signature", Token: "ignored"}
	body := []byte(`{"event":"payment.captured"}`)

	res := a.Verify(Request{Header: header("X-Razorpay-Signature", sign("whsec", body)), Body: body})
	assert.True(t, res.OK)

	res = a.Verify(Request{Header: header("X-Razorpay-Signature", sign("other", body)), Body: body})
	assert.False(t, res.OK)
	assert.Equal(t, "signature mismatch", res.Reason)

	// A configured secret disables the token fallback.
	res = a.Verify(Request{Header: header("Authorization", "Bearer ignored"), Body: body})
	assert.False(t, res.OK)
}

func TestHMACAuthenticator_TokenFallback(t *testing.T) {
	a := &HMACAuthenticator{SignatureHeader: "X-Razorpay-Signature", Token: "static-token"}

	assert.True(t, a.Verify(Request{Header: header("Authorization", "Bearer static-token")}).OK)
	assert.False(t, a.Verify(Request{Header: header("Authorization", "Bearer nope")}).OK)
	assert.False(t, a.Verify(Request{Header: header()}).OK)
}

func TestHMACAuthenticator_FailsClosed(t *testing.T) {
	a := &HMACAuthenticator{SignatureHeader: "X-Razorpay-Signature"}
	res := a.Verify(Request{Header: header("X-Razorpay-Signature", "anything"), Body: []byte("{}")})
	assert.False(t, res.OK)
	assert.Equal(t, "no webhook verification configured", res.Reason)
}

func TestBasicChallengeAuthenticator(t *testing.T) {
	a := &BasicChallengeAuthenticator{Username: "carrier", Password: "s3cret"}
	sum := sha256.Sum256([]byte("carrier:s3cret"))
	expected := hex.EncodeToString(sum[:])

	assert.True(t, a.Verify(Request{Header: header("Authorization", "Basic "+expected)}).OK)
	assert.True(t, a.Verify(Request{Header: header("Authorization", "Token "+expected)}).OK)
	assert.False(t, a.Verify(Request{Header: header("Authorization", "Basic abc")}).OK)
	assert.False(t, a.Verify(Request{Header: header()}).OK)

	unconfigured := &BasicChallengeAuthenticator{}
	assert.False(t, unconfigured.Verify(Request{Header: header("Authorization", "Basic "+expected)}).OK)
}
