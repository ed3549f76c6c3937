// Package webhook turns raw provider callbacks into provider-neutral
// notifications. Each source pairs an authenticator with a parser; the body
// is never decoded before the authenticator has accepted it.
package webhook

import (
	"errors"
	"sort"
	"strings"

	"order-lifecycle-service/internal/config"
	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/webhookauth"
)

// ErrMalformed marks a body that authenticated but could not be parsed.
var ErrMalformed = errors.New("malformed webhook payload")

type Kind int

const (
	KindPayment Kind = iota + 1
	KindCarrier
)

type PaymentParser func(r webhookauth.Request) (dto.PaymentNotification, error)

type CarrierParser func(r webhookauth.Request) (dto.CarrierNotification, error)

// Source is one registered webhook sender. Exactly one of the parsers is set,
// according to Kind.
type Source struct {
	Name         string
	Kind         Kind
	Auth         webhookauth.Authenticator
	ParsePayment PaymentParser
	ParseCarrier CarrierParser
}

type Registry struct {
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

func (r *Registry) AddPayment(name string, auth webhookauth.Authenticator, parse PaymentParser) {
	r.sources[strings.ToLower(name)] = Source{Name: strings.ToLower(name), Kind: KindPayment, Auth: auth, ParsePayment: parse}
}

func (r *Registry) AddCarrier(name string, auth webhookauth.Authenticator, parse CarrierParser) {
	r.sources[strings.ToLower(name)] = Source{Name: strings.ToLower(name), Kind: KindCarrier, Auth: auth, ParseCarrier: parse}
}

// Lookup is case-insensitive on the provider name.
func (r *Registry) Lookup(name string) (Source, bool) {
	s, ok := r.sources[strings.ToLower(name)]
	return s, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.sources))
	for n := range r.sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FromConfig registers the two gateways and the carrier with their
// configured secrets. Missing secrets leave the authenticator failing closed.
func FromConfig(cfg *config.Config) *Registry {
	r := NewRegistry()
	r.AddPayment("phonepe", &webhookauth.ChecksumAuthenticator{
		Path:      cfg.PhonePe.CallbackPath,
		SaltKey:   cfg.PhonePe.SaltKey,
		SaltIndex: cfg.PhonePe.SaltIndex,
	}, ParsePhonePe)
	r.AddPayment("razorpay", &webhookauth.HMACAuthenticator{
		Secret:          cfg.Razorpay.WebhookSecret,
		SignatureHeader: RazorpaySignatureHeader,
		Token:           cfg.Razorpay.WebhookToken,
	}, ParseRazorpay)
	r.AddCarrier("shiprocket", &webhookauth.BasicChallengeAuthenticator{
		Username: cfg.Shiprocket.WebhookUser,
		Password: cfg.Shiprocket.WebhookPassword,
	}, ParseShiprocket)
	return r
}
