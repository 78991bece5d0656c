package thotem

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DetailRequest is the body of a correspondent lookup.
type DetailRequest struct {
	CorrespID string `json:"corresp_id"`
}

// DetailResponse is the reply to a correspondent lookup. The service sends
// "message" as an object on success and as false or a string otherwise, so
// Message is nil whenever it is not an object.
type DetailResponse struct {
	Status  bool
	Message *Message
}

// Message carries the installer name and its correspondent.
type Message struct {
	Name          string
	Correspondant *Correspondant
}

// Correspondant is the installer contact. Address is nil when the service
// omitted it, which is different from an empty address.
type Correspondant struct {
	Phone   string
	Email   string
	Address *string
}

// Absence names why a response carries no usable correspondent.
type Absence int

const (
	AbsenceNone Absence = iota
	AbsenceNoStatus
	AbsenceNoMessage
	AbsenceNoCorrespondant
	AbsenceNoAddress
)

func (a Absence) String() string {
	switch a {
	case AbsenceNone:
		return "none"
	case AbsenceNoStatus:
		return "status false"
	case AbsenceNoMessage:
		return "no message"
	case AbsenceNoCorrespondant:
		return "no correspondant"
	case AbsenceNoAddress:
		return "no address"
	default:
		return "unknown"
	}
}

// Correspondent returns the response's name and contact, or the first
// reason they are missing.
func (r *DetailResponse) Correspondent() (string, Correspondant, Absence) {
	switch {
	case r == nil || !r.Status:
		return "", Correspondant{}, AbsenceNoStatus
	case r.Message == nil:
		return "", Correspondant{}, AbsenceNoMessage
	case r.Message.Correspondant == nil:
		return r.Message.Name, Correspondant{}, AbsenceNoCorrespondant
	case r.Message.Correspondant.Address == nil:
		return r.Message.Name, *r.Message.Correspondant, AbsenceNoAddress
	default:
		return r.Message.Name, *r.Message.Correspondant, AbsenceNone
	}
}

type wireResponse struct {
	Status  json.RawMessage `json:"status"`
	Message json.RawMessage `json:"message"`
}

type wireMessage struct {
	Name          flexString      `json:"name"`
	Correspondant json.RawMessage `json:"correspondant"`
}

type wireCorrespondant struct {
	Phone   flexString      `json:"phone"`
	Email   flexString      `json:"email"`
	Address json.RawMessage `json:"address"`
}

// UnmarshalJSON accepts the loose shapes the service produces.
func (r *DetailResponse) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = DetailResponse{Status: truthy(w.Status)}

	if !isObject(w.Message) {
		return nil
	}
	var m wireMessage
	if err := json.Unmarshal(w.Message, &m); err != nil {
		return err
	}
	r.Message = &Message{Name: string(m.Name)}

	if !isObject(m.Correspondant) {
		return nil
	}
	var c wireCorrespondant
	if err := json.Unmarshal(m.Correspondant, &c); err != nil {
		return err
	}
	r.Message.Correspondant = &Correspondant{Phone: string(c.Phone), Email: string(c.Email)}

	var addr flexString
	if len(c.Address) > 0 && !bytes.Equal(c.Address, []byte("null")) {
		if err := json.Unmarshal(c.Address, &addr); err != nil {
			return err
		}
		s := string(addr)
		r.Message.Correspondant.Address = &s
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// truthy mirrors how the service's clients read "status": true, 1, "1"
// and "true" count, everything else does not.
func truthy(raw json.RawMessage) bool {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(raw)), `"`)) {
	case "true", "1":
		return true
	default:
		return false
	}
}

// flexString decodes a JSON string, number or null into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*f = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = flexString(n.String())
		return nil
	}
}
