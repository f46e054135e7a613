package checks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// DefaultOwnerIDLength matches a ten-digit national phone number.
const DefaultOwnerIDLength = 10

// ErrInvalid matches every *ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid check")

// FieldError describes one field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }

// ValidationError lists every field-level problem found in one document.
type ValidationError struct {
	ID  string
	err error
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return "invalid check: " + e.err.Error()
	}
	return fmt.Sprintf("invalid check %s: %s", e.ID, e.err.Error())
}

// Fields returns the individual field errors.
func (e *ValidationError) Fields() []*FieldError {
	var out []*FieldError
	for _, err := range multierr.Errors(e.err) {
		var fe *FieldError
		if errors.As(err, &fe) {
			out = append(out, fe)
		}
	}
	return out
}

func (e *ValidationError) Unwrap() []error { return multierr.Errors(e.err) }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Schema validates stored check documents. Values are never coerced: a field
// of the wrong JSON type is an error, not a conversion.
type Schema struct {
	OwnerIDLength int
}

// Parse decodes doc into a fully typed Check or returns a *ValidationError.
// state and lastCheckedAt get defaults only when absent or null.
func (s Schema) Parse(doc []byte) (Check, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil || raw == nil {
		return Check{}, &ValidationError{err: &FieldError{Field: "document", Reason: "not a JSON object"}}
	}
	f := fields(raw)

	var (
		c    Check
		errs error
	)

	if id, err := f.requiredString("id"); err != nil {
		errs = multierr.Append(errs, err)
	} else if !isCanonicalUUID(id) {
		errs = multierr.Append(errs, &FieldError{Field: "id", Reason: "not a canonical 36-character identifier"})
	} else {
		c.ID = id
	}

	ownerLen := s.OwnerIDLength
	if ownerLen <= 0 {
		ownerLen = DefaultOwnerIDLength
	}
	if owner, err := f.requiredString("ownerId"); err != nil {
		errs = multierr.Append(errs, err)
	} else if len(owner) != ownerLen {
		errs = multierr.Append(errs, &FieldError{Field: "ownerId", Reason: fmt.Sprintf("must be %d characters", ownerLen)})
	} else {
		c.OwnerID = owner
	}

	if p, err := f.requiredString("protocol"); err != nil {
		errs = multierr.Append(errs, err)
	} else if p != string(ProtocolHTTP) && p != string(ProtocolHTTPS) {
		errs = multierr.Append(errs, &FieldError{Field: "protocol", Reason: "must be http or https"})
	} else {
		c.Protocol = Protocol(p)
	}

	if u, err := f.requiredString("url"); err != nil {
		errs = multierr.Append(errs, err)
	} else if strings.TrimSpace(u) == "" {
		errs = multierr.Append(errs, &FieldError{Field: "url", Reason: "must not be empty"})
	} else {
		c.URL = u
	}

	if m, err := f.requiredString("method"); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		switch Method(m) {
		case MethodGet, MethodPost, MethodPut, MethodDelete:
			c.Method = Method(m)
		default:
			errs = multierr.Append(errs, &FieldError{Field: "method", Reason: "must be one of get, post, put, delete"})
		}
	}

	if codes, err := f.successCodes(); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		c.SuccessCodes = codes
	}

	if t, err := f.requiredInteger("timeoutSeconds"); err != nil {
		errs = multierr.Append(errs, err)
	} else if t < 1 || t > 5 {
		errs = multierr.Append(errs, &FieldError{Field: "timeoutSeconds", Reason: "must be between 1 and 5"})
	} else {
		c.TimeoutSeconds = int(t)
	}

	c.State = StateDown
	if f.present("state") {
		if st, err := f.requiredString("state"); err != nil {
			errs = multierr.Append(errs, err)
		} else if st != string(StateUp) && st != string(StateDown) {
			errs = multierr.Append(errs, &FieldError{Field: "state", Reason: "must be up or down"})
		} else {
			c.State = State(st)
		}
	}

	if f.present("lastCheckedAt") {
		if ts, err := f.requiredInteger("lastCheckedAt"); err != nil {
			errs = multierr.Append(errs, err)
		} else if ts <= 0 {
			errs = multierr.Append(errs, &FieldError{Field: "lastCheckedAt", Reason: "must be a positive epoch-millisecond timestamp"})
		} else {
			c.LastCheckedAt = &ts
		}
	}

	if errs != nil {
		return Check{}, &ValidationError{ID: c.ID, err: errs}
	}
	return c, nil
}

// Validate checks an already typed record against the same rules Parse applies
// to stored documents.
func (s Schema) Validate(c Check) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode check %s: %w", c.ID, err)
	}
	_, err = s.Parse(doc)
	return err
}

func isCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

type fields map[string]json.RawMessage

func (f fields) present(name string) bool {
	v, ok := f[name]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (f fields) requiredString(name string) (string, error) {
	if !f.present(name) {
		return "", &FieldError{Field: name, Reason: "is required"}
	}
	var s string
	if err := json.Unmarshal(f[name], &s); err != nil {
		return "", &FieldError{Field: name, Reason: "must be a string"}
	}
	return s, nil
}

func (f fields) requiredInteger(name string) (int64, error) {
	if !f.present(name) {
		return 0, &FieldError{Field: name, Reason: "is required"}
	}
	n, ok := decodeInteger(f[name])
	if !ok {
		return 0, &FieldError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

func (f fields) successCodes() ([]int, error) {
	if !f.present("successCodes") {
		return nil, &FieldError{Field: "successCodes", Reason: "is required"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(f["successCodes"], &items); err != nil {
		return nil, &FieldError{Field: "successCodes", Reason: "must be an array"}
	}
	if len(items) == 0 {
		return nil, &FieldError{Field: "successCodes", Reason: "must not be empty"}
	}
	codes := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := decodeInteger(item)
		if !ok || n < 100 || n > 599 {
			return nil, &FieldError{Field: "successCodes", Reason: "must contain HTTP status codes (100-599)"}
		}
		codes = append(codes, int(n))
	}
	return codes, nil
}

// decodeInteger accepts JSON numbers with an integral value and nothing else.
func decodeInteger(raw json.RawMessage) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	fl, err := num.Float64()
	if err != nil || math.Trunc(fl) != fl || math.Abs(fl) > 1<<53 {
		return 0, false
	}
	return int64(fl), true
}
