package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformed is returned for any reference that cannot be decoded into a
// complete plan or module reference.
var ErrMalformed = errors.New("malformed reference")

const (
	KindPlan   = "plan"
	KindModule = "mod"

	// PrefixLen is the length ids are truncated to by Compact.
	PrefixLen = 8
)

// Reference is the closed set of entitlement targets a gateway payment can carry.
type Reference interface {
	Kind() string
	isReference()
}

// PlanRef points at a plan purchase for the tenant owned by OwnerID.
type PlanRef struct {
	PlanID  string
	OwnerID string
}

func (PlanRef) Kind() string { return KindPlan }
func (PlanRef) isReference() {}

// ModuleRef points at a module purchase for TenantID.
type ModuleRef struct {
	ModuleID string
	TenantID string
}

func (ModuleRef) Kind() string { return KindModule }
func (ModuleRef) isReference() {}

// Compact truncates an id to the prefix length carried in gateway metadata.
func Compact(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= PrefixLen {
		return id
	}
	return id[:PrefixLen]
}

// Encode returns the compact JSON form of ref.
func Encode(ref Reference) (string, error) {
	if _, err := fieldsOf(ref); err != nil {
		return "", err
	}
	var (
		out []byte
		err error
	)
	switch r := ref.(type) {
	case PlanRef:
		out, err = json.Marshal(struct {
			T string `json:"t"`
			P string `json:"p"`
			U string `json:"u"`
		}{KindPlan, r.PlanID, r.OwnerID})
	case ModuleRef:
		out, err = json.Marshal(struct {
			T  string `json:"t"`
			M  string `json:"m"`
			TN string `json:"tn"`
		}{KindModule, r.ModuleID, r.TenantID})
	}
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodeLegacy returns the pipe form `p:<plan>|u:<owner>` or `m:<module>|t:<tenant>`.
func EncodeLegacy(ref Reference) (string, error) {
	fields, err := fieldsOf(ref)
	if err != nil {
		return "", err
	}
	switch ref.(type) {
	case PlanRef:
		return "p:" + fields[0] + "|u:" + fields[1], nil
	default:
		return "m:" + fields[0] + "|t:" + fields[1], nil
	}
}

// Decode parses either form. Input that is not JSON at all is retried as the
// legacy pipe form; JSON that parses but does not describe a reference is malformed.
func Decode(raw string) (Reference, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, ErrMalformed
	}
	if !json.Valid([]byte(s)) {
		return decodeLegacy(s)
	}
	return decodeCompact(s)
}

func decodeCompact(s string) (Reference, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	tok, err := dec.Token()
	if err != nil {
		return nil, ErrMalformed
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrMalformed
	}

	fields := map[string]string{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, ErrMalformed
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, ErrMalformed
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, ErrMalformed
		}
		val, ok := valTok.(string)
		if !ok {
			return nil, ErrMalformed
		}
		if _, dup := fields[key]; dup {
			return nil, ErrMalformed
		}
		fields[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, ErrMalformed
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrMalformed
	}

	kind := fields["t"]
	delete(fields, "t")
	switch kind {
	case KindPlan:
		vals, ok := exactly(fields, "p", "u")
		if !ok {
			return nil, ErrMalformed
		}
		return checked(PlanRef{PlanID: vals[0], OwnerID: vals[1]})
	case KindModule:
		vals, ok := exactly(fields, "m", "tn")
		if !ok {
			return nil, ErrMalformed
		}
		return checked(ModuleRef{ModuleID: vals[0], TenantID: vals[1]})
	default:
		return nil, ErrMalformed
	}
}

func decodeLegacy(s string) (Reference, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 2 {
		return nil, ErrMalformed
	}
	fields := map[string]string{}
	for _, part := range parts {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return nil, ErrMalformed
		}
		key = strings.TrimSpace(key)
		if _, dup := fields[key]; dup {
			return nil, ErrMalformed
		}
		fields[key] = strings.TrimSpace(val)
	}
	if vals, ok := exactly(fields, "p", "u"); ok {
		return checked(PlanRef{PlanID: vals[0], OwnerID: vals[1]})
	}
	if vals, ok := exactly(fields, "m", "t"); ok {
		return checked(ModuleRef{ModuleID: vals[0], TenantID: vals[1]})
	}
	return nil, ErrMalformed
}

// exactly returns the values of keys when fields holds those keys and nothing else.
func exactly(fields map[string]string, keys ...string) ([]string, bool) {
	if len(fields) != len(keys) {
		return nil, false
	}
	vals := make([]string, 0, len(keys))
	for _, key := range keys {
		v, ok := fields[key]
		if !ok {
			return nil, false
		}
		vals = append(vals, v)
	}
	return vals, true
}

func checked(ref Reference) (Reference, error) {
	if _, err := fieldsOf(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

func fieldsOf(ref Reference) ([2]string, error) {
	var out [2]string
	switch r := ref.(type) {
	case PlanRef:
		out = [2]string{r.PlanID, r.OwnerID}
	case ModuleRef:
		out = [2]string{r.ModuleID, r.TenantID}
	default:
		return out, fmt.Errorf("%w: unsupported reference %T", ErrMalformed, ref)
	}
	for _, v := range out {
		if !validValue(v) {
			return out, ErrMalformed
		}
	}
	return out, nil
}

func validValue(v string) bool {
	if v == "" || strings.TrimSpace(v) != v {
		return false
	}
	return !strings.ContainsAny(v, "|: \t\"")
}
