package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/webhookauth"
)

// flexString accepts a JSON string or number; the carrier sends AWBs and
// order ids as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type shiprocketEvent struct {
	AWB              flexString `json:"awb"`
	OrderID          flexString `json:"order_id"`
	EventID          flexString `json:"event_id"`
	Status           string     `json:"status"`
	CurrentStatus    string     `json:"current_status"`
	ShipmentStatus   flexString `json:"shipment_status"`
	CourierName      string     `json:"courier_name"`
	CurrentTimestamp string     `json:"current_timestamp"`
}

// Carrier timestamps look like "2023-05-23 14:51:38" in IST.
const shiprocketTimeLayout = "2006-01-02 15:04:05"

var ist = time.FixedZone("IST", 5*3600+1800)

// ParseShiprocket reads a tracking callback. The status is taken from status,
// current_status or shipment_status, first non-empty wins.
func ParseShiprocket(r webhookauth.Request) (dto.CarrierNotification, error) {
	var ev shiprocketEvent
	if err := json.Unmarshal(r.Body, &ev); err != nil {
		return dto.CarrierNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	status := firstNonEmpty(ev.Status, ev.CurrentStatus, string(ev.ShipmentStatus))
	if status == "" {
		return dto.CarrierNotification{}, fmt.Errorf("%w: missing status", ErrMalformed)
	}
	if ev.AWB == "" && ev.OrderID == "" {
		return dto.CarrierNotification{}, fmt.Errorf("%w: missing awb and order_id", ErrMalformed)
	}

	n := dto.CarrierNotification{
		Carrier:    "shiprocket",
		EventID:    string(ev.EventID),
		AWB:        strings.TrimSpace(string(ev.AWB)),
		OrderID:    strings.TrimSpace(string(ev.OrderID)),
		Status:     status,
		Courier:    ev.CourierName,
		RawPayload: string(r.Body),
	}
	if ev.CurrentTimestamp != "" {
		if t, err := time.ParseInLocation(shiprocketTimeLayout, ev.CurrentTimestamp, ist); err == nil {
			n.OccurredAt = t.UTC()
		}
	}
	return n, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
