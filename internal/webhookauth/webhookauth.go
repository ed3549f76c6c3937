// Package webhookauth verifies that inbound webhooks really come from the
// gateway or carrier that claims to have sent them. Every authenticator fails
// closed: a missing secret is a rejection, never a pass.
package webhookauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("webhook authentication failed")

// Request is the part of an inbound webhook the authenticators look at. Body
// must be the raw bytes as received.
type Request struct {
	Header http.Header
	Body   []byte
}

type Result struct {
	OK     bool
	Reason string
}

func ok() Result { return Result{OK: true} }

func reject(reason string) Result { return Result{Reason: reason} }

type Authenticator interface {
	Verify(r Request) Result
}

// Checksum computes the gateway checksum header value:
// sha256_hex(payload + path + key) + "###" + index.
func Checksum(payload, path, key, index string) string {
	sum := sha256.Sum256([]byte(payload + path + key))
	return hex.EncodeToString(sum[:]) + "###" + index
}

// ChecksumAuthenticator verifies the gateway scheme where the body is an
// envelope {"response": "<base64>"} and the header carries
// sha256(response + path + salt)###saltIndex.
type ChecksumAuthenticator struct {
	Header    string
	Path      string
	SaltKey   string
	SaltIndex string
}

func (a *ChecksumAuthenticator) Verify(r Request) Result {
	if a.SaltKey == "" {
		return reject("checksum salt not configured")
	}
	header := r.Header.Get(a.headerName())
	if header == "" {
		return reject("missing " + a.headerName() + " header")
	}

	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(r.Body, &envelope); err != nil || envelope.Response == "" {
		return reject("missing response payload")
	}

	expected := Checksum(envelope.Response, a.Path, a.SaltKey, a.SaltIndex)
	if strings.TrimSpace(header) != expected {
		return reject("checksum mismatch")
	}
	return ok()
}

func (a *ChecksumAuthenticator) headerName() string {
	if a.Header == "" {
		return "X-VERIFY"
	}
	return a.Header
}

// HMACAuthenticator checks hex(HMAC_SHA256(secret, body)) against a signature
// header. When no secret is configured it falls back to a static bearer
// token; with neither configured every request is rejected.
type HMACAuthenticator struct {
	Secret          string
	SignatureHeader string
	Token           string
}

func (a *HMACAuthenticator) Verify(r Request) Result {
	if a.Secret != "" {
		sig := strings.TrimSpace(r.Header.Get(a.SignatureHeader))
		if sig == "" {
			return reject("missing " + a.SignatureHeader + " header")
		}
		mac := hmac.New(sha256.New, []byte(a.Secret))
		mac.Write(r.Body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
			return reject("signature mismatch")
		}
		return ok()
	}

	if a.Token != "" {
		token := stripScheme(r.Header.Get("Authorization"))
		if token == "" {
			return reject("missing bearer token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
			return reject("bearer token mismatch")
		}
		return ok()
	}

	return reject("no webhook verification configured")
}

// BasicChallengeAuthenticator accepts an Authorization header whose
// credential equals sha256_hex(username + ":" + password).
type BasicChallengeAuthenticator struct {
	Username string
	Password string
}

func (a *BasicChallengeAuthenticator) Verify(r Request) Result {
	if a.Username == "" || a.Password == "" {
		return reject("webhook credentials not configured")
	}
	got := stripScheme(r.Header.Get("Authorization"))
	if got == "" {
		return reject("missing authorization header")
	}
	sum := sha256.Sum256([]byte(a.Username + ":" + a.Password))
	expected := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return reject("authorization mismatch")
	}
	return ok()
}

// stripScheme drops a leading "Bearer "/"Basic " style token.
func stripScheme(h string) string {
	h = strings.TrimSpace(h)
	if i := strings.IndexByte(h, ' '); i >= 0 {
		return strings.TrimSpace(h[i+1:])
	}
	return h
}
