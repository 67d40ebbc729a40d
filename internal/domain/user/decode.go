package user

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DecodeResult carries the canonical records of one payload together with what had to be dropped.
type DecodeResult struct {
	Records    []Record
	Malformed  int
	Duplicates int
}

// wireRecord mirrors whatever the directory (or an older cache entry) sent. Every field is
// optional on the wire; normalize decides what a valid record is.
type wireRecord struct {
	UserID          flexID   `json:"userId"`
	MongoID         flexID   `json:"_id"`
	Email           string   `json:"email"`
	FirebaseID      string   `json:"firebaseId"`
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	ProfileComplete flexBool `json:"profileComplete"`
	Role            string   `json:"role"`
	CreatedAt       flexTime `json:"createdAt"`
	LastActiveAt    flexTime `json:"lastActiveAt"`
	LastLoginAt     flexTime `json:"lastLoginAt"`
	TripID          flexID   `json:"tripId"`
	TripCreatedAt   flexTime `json:"tripCreatedAt"`
	TripCompletedAt flexTime `json:"tripCompletedAt"`
	FunnelStage     string   `json:"funnelStage"`
	UserState       string   `json:"userState"`
}

// DecodeRecords accepts a bare JSON array of users or an object wrapping it under "users"
// (or "data"). Only an unreadable envelope is an error; bad elements are counted.
func DecodeRecords(data []byte) (DecodeResult, error) {
	items, err := splitEnvelope(data)
	if err != nil {
		return DecodeResult{}, err
	}

	res := DecodeResult{Records: make([]Record, 0, len(items))}
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		var w wireRecord
		if err := json.Unmarshal(item, &w); err != nil {
			res.Malformed++
			continue
		}

		rec, err := w.normalize()
		if err != nil {
			res.Malformed++
			continue
		}

		if _, dup := seen[rec.UserID]; dup {
			res.Duplicates++
			continue
		}
		seen[rec.UserID] = struct{}{}
		res.Records = append(res.Records, rec)
	}

	return res, nil
}

// DecodeRecord normalizes a single user object.
func DecodeRecord(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return w.normalize()
}

func splitEnvelope(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode user list: %w", err)
		}
		return items, nil
	}

	var wrapped struct {
		Users []json.RawMessage `json:"users"`
		Data  []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode user list: %w", err)
	}
	if wrapped.Users != nil {
		return wrapped.Users, nil
	}
	return wrapped.Data, nil
}

func (w wireRecord) normalize() (Record, error) {
	id := strings.TrimSpace(string(w.UserID))
	if id == "" {
		id = strings.TrimSpace(string(w.MongoID))
	}
	email := strings.TrimSpace(w.Email)

	if id == "" {
		return Record{}, fmt.Errorf("%w: missing userId", ErrMalformedRecord)
	}
	if email == "" {
		return Record{}, fmt.Errorf("%w: missing email for %s", ErrMalformedRecord, id)
	}

	role := Role(strings.ToLower(strings.TrimSpace(w.Role)))
	if !role.IsValid() {
		role = RoleUser
	}

	stage := FunnelStage(strings.TrimSpace(w.FunnelStage))
	if stage == "" {
		stage = StageNone
	}

	rec := Record{
		UserID:          id,
		Email:           email,
		FirebaseID:      strings.TrimSpace(w.FirebaseID),
		FirstName:       strings.TrimSpace(w.FirstName),
		LastName:        strings.TrimSpace(w.LastName),
		ProfileComplete: bool(w.ProfileComplete),
		Role:            role,
		CreatedAt:       w.CreatedAt.ptr(),
		LastActiveAt:    w.LastActiveAt.ptr(),
		TripID:          strings.TrimSpace(string(w.TripID)),
		TripCreatedAt:   w.TripCreatedAt.ptr(),
		TripCompletedAt: w.TripCompletedAt.ptr(),
		FunnelStage:     stage,
		UserState:       strings.ToLower(strings.TrimSpace(w.UserState)),
	}
	if rec.LastActiveAt == nil {
		rec.LastActiveAt = w.LastLoginAt.ptr()
	}

	// trip timestamps without a trip reference cannot be trusted
	if rec.TripID == "" {
		rec.TripCreatedAt = nil
		rec.TripCompletedAt = nil
	}

	return rec, nil
}

// flexID reads ids sent as a string, a number, {"$oid": "..."} or a populated {"_id": ...}.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			*f = flexID(s)
		}
	case '{':
		var obj struct {
			OID flexID `json:"$oid"`
			ID  flexID `json:"_id"`
		}
		if err := json.Unmarshal(b, &obj); err == nil {
			if obj.OID != "" {
				*f = obj.OID
			} else {
				*f = obj.ID
			}
		}
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			*f = flexID(n.String())
		}
	}
	return nil
}

// flexBool treats anything other than true / "true" / 1 as false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(b)), `"`)) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// flexTime accepts RFC 3339 strings or epoch milliseconds; anything else stays unset.
type flexTime struct {
	t  time.Time
	ok bool
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		t, ok := parseTimestamp(s)
		f.t, f.ok = t, ok
		return nil
	}

	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return nil
	}
	f.t, f.ok = time.UnixMilli(ms).UTC(), true
	return nil
}

func (f flexTime) ptr() *time.Time {
	if !f.ok {
		return nil
	}
	t := f.t
	return &t
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
