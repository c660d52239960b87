package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/jellydator/validation"

	appvalidation "github.com/CodeMonkeyCybersecurity/authzfuzz/internal/validation"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// replyRow accepts the canonical field names and the user/method/value aliases
// used by older prompt formats.
type replyRow struct {
	Principal principalName `json:"principal"`
	User      principalName `json:"user"`
	Object    string        `json:"object"`
	Action    string        `json:"action"`
	Method    string        `json:"method"`
	Allowed   *bool         `json:"allowed"`
	Value     *bool         `json:"value"`
}

// principalName accepts a JSON string or number. Classifiers echo numeric
// user ids from the inventory as bare numbers.
type principalName string

func (p *principalName) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = principalName(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("principal must be a string or number: %s", data)
	}
	*p = principalName(n.String())
	return nil
}

func (r *replyRow) normalize() {
	if r.Principal == "" {
		r.Principal = r.User
	}
	if r.Action == "" {
		r.Action = r.Method
	}
	if r.Allowed == nil {
		r.Allowed = r.Value
	}
}

func (r *replyRow) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Principal, validation.Required.Error("principal is required"), appvalidation.NotBlank),
		validation.Field(&r.Object, validation.Required.Error("object is required"), appvalidation.ObjectReference),
		validation.Field(&r.Action, validation.Required.Error("action is required"), appvalidation.Action),
		validation.Field(&r.Allowed, validation.NotNil.Error("allowed must be a boolean")),
	)
}

// ParseReply decodes a classifier reply: either a JSON array of records or an
// object with a "permissions" array. A single malformed record fails the whole reply.
func ParseReply(reply []byte) ([]types.PermissionEntry, error) {
	data := stripCodeFence(reply)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}

	var raw []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
	case '{':
		var wrapper struct {
			Permissions *[]json.RawMessage `json:"permissions"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
		if wrapper.Permissions == nil {
			return nil, fmt.Errorf("%w: object reply has no permissions array", ErrMalformedReply)
		}
		raw = *wrapper.Permissions
	default:
		return nil, fmt.Errorf("%w: expected a JSON array or object", ErrMalformedReply)
	}

	entries := make([]types.PermissionEntry, 0, len(raw))
	for i, msg := range raw {
		var row replyRow
		if err := json.Unmarshal(msg, &row); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedReply, i, err)
		}
		row.normalize()
		if err := row.Validate(); err != nil {
			return nil, appvalidation.Wrap(ErrMalformedReply, fmt.Errorf("record %d: %w", i, err))
		}

		obj, _ := types.ParseObjectRef(row.Object)
		action, _ := types.ParseAction(row.Action)
		entries = append(entries, types.PermissionEntry{
			Principal: strings.TrimSpace(string(row.Principal)),
			Object:    obj,
			Action:    action,
			Allowed:   *row.Allowed,
		})
	}
	return entries, nil
}

// stripCodeFence removes a surrounding markdown code fence, which chat models
// add even when asked for bare JSON.
func stripCodeFence(reply []byte) []byte {
	data := bytes.TrimSpace(reply)
	if !bytes.HasPrefix(data, []byte("```")) {
		return data
	}
	data = data[3:]
	if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
		data = data[nl+1:]
	}
	data = bytes.TrimSuffix(bytes.TrimSpace(data), []byte("```"))
	return bytes.TrimSpace(data)
}
