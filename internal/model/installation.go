package model

import (
	"encoding/json"
	"maps"
)

// Wire keys of an installation payload.
const (
	KeyID               = "_id"
	KeyDeviceToken      = "_deviceToken"
	KeyChannels         = "_channels"
	KeyAllowedSenders   = "_allowedSenders"
	KeyOwner            = "_owner"
	KeyOsType           = "_osType"
	KeyOsVersion        = "_osVersion"
	KeyAppVersionCode   = "_appVersionCode"
	KeyAppVersionString = "_appVersionString"
	KeyPushType         = "_pushType"
	KeySSE              = "_sse"

	KeyUsername = "username"
	KeyPassword = "password"
	KeyURI      = "uri"

	// KeyOptions is local only. The backend never sees it.
	KeyOptions = "options"

	// KeyFullUpdate wraps a PUT body so every field is treated as authoritative.
	KeyFullUpdate = "$full_update"
)

const (
	PushTypeSSE           = "sse"
	DefaultAppVersionCode = -1
)

var reservedKeys = map[string]struct{}{
	KeyID:               {},
	KeyDeviceToken:      {},
	KeyChannels:         {},
	KeyAllowedSenders:   {},
	KeyOwner:            {},
	KeyOsType:           {},
	KeyOsVersion:        {},
	KeyAppVersionCode:   {},
	KeyAppVersionString: {},
	KeyPushType:         {},
	KeySSE:              {},
}

// IsReservedKey reports whether key is an installation field rather than a
// caller supplied option.
func IsReservedKey(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

// Credentials open the SSE stream of an installation.
type Credentials struct {
	Username string
	Password string
	URI      string
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != "" && c.URI != ""
}

// Platform carries the informational fields the device reports on every save.
type Platform struct {
	OsType           string
	OsVersion        string
	AppVersionString string
}

// Installation is one device's push subscription. A nil Channels or
// AllowedSenders means the field is absent; an empty slice is an explicit
// empty set.
type Installation struct {
	ID               string
	DeviceToken      string
	Channels         []string
	AllowedSenders   []string
	Owner            string
	Options          map[string]any
	OsType           string
	OsVersion        string
	AppVersionCode   int
	AppVersionString string
	PushType         string
	Credentials      Credentials
}

// Empty returns an unregistered record carrying only a device token.
func Empty(deviceToken string) *Installation {
	return &Installation{DeviceToken: deviceToken, AppVersionCode: DefaultAppVersionCode}
}

func (i *Installation) Registered() bool { return i.ID != "" }

// Clone copies the record. Nested option values are shared.
func (i *Installation) Clone() *Installation {
	c := *i
	if i.Channels != nil {
		c.Channels = append([]string{}, i.Channels...)
	}
	if i.AllowedSenders != nil {
		c.AllowedSenders = append([]string{}, i.AllowedSenders...)
	}
	if i.Options != nil {
		c.Options = maps.Clone(i.Options)
	}
	return &c
}

// Payload flattens the whole record, options at top level, the way the
// backend represents an installation.
func (i *Installation) Payload() map[string]any {
	p := make(map[string]any, len(reservedKeys)+len(i.Options))
	putOptions(p, i.Options)
	putString(p, KeyID, i.ID)
	putString(p, KeyDeviceToken, i.DeviceToken)
	putString(p, KeyOwner, i.Owner)
	putString(p, KeyOsType, i.OsType)
	putString(p, KeyOsVersion, i.OsVersion)
	putString(p, KeyAppVersionString, i.AppVersionString)
	putString(p, KeyPushType, i.PushType)
	if i.Channels != nil {
		p[KeyChannels] = append([]string{}, i.Channels...)
	}
	if i.AllowedSenders != nil {
		p[KeyAllowedSenders] = append([]string{}, i.AllowedSenders...)
	}
	p[KeyAppVersionCode] = i.AppVersionCode
	if c := i.Credentials; c != (Credentials{}) {
		p[KeySSE] = map[string]any{
			KeyUsername: c.Username,
			KeyPassword: c.Password,
			KeyURI:      c.URI,
		}
	}
	return p
}

// RequestBody builds the create/update body. Server owned fields (id, owner,
// credentials) are never sent.
func (i *Installation) RequestBody(pf Platform) map[string]any {
	body := make(map[string]any, len(i.Options)+9)
	putOptions(body, i.Options)
	if i.Channels != nil {
		body[KeyChannels] = append([]string{}, i.Channels...)
	}
	if i.AllowedSenders != nil {
		body[KeyAllowedSenders] = append([]string{}, i.AllowedSenders...)
	}
	body[KeyOsType] = pf.OsType
	body[KeyOsVersion] = pf.OsVersion
	putString(body, KeyDeviceToken, i.DeviceToken)
	body[KeyAppVersionCode] = DefaultAppVersionCode
	body[KeyAppVersionString] = pf.AppVersionString
	body[KeyPushType] = PushTypeSSE
	return body
}

// Decode rebuilds a record from a partitioned payload: reserved keys at top
// level, caller fields under KeyOptions.
func Decode(p map[string]any) *Installation {
	inst := &Installation{
		ID:               stringValue(p[KeyID]),
		DeviceToken:      stringValue(p[KeyDeviceToken]),
		Channels:         stringSet(p[KeyChannels]),
		AllowedSenders:   stringSet(p[KeyAllowedSenders]),
		Owner:            stringValue(p[KeyOwner]),
		OsType:           stringValue(p[KeyOsType]),
		OsVersion:        stringValue(p[KeyOsVersion]),
		AppVersionCode:   intValue(p[KeyAppVersionCode], DefaultAppVersionCode),
		AppVersionString: stringValue(p[KeyAppVersionString]),
		PushType:         stringValue(p[KeyPushType]),
	}
	if opts, ok := p[KeyOptions].(map[string]any); ok {
		inst.Options = make(map[string]any, len(opts))
		putOptions(inst.Options, opts)
	}
	if sse, ok := p[KeySSE].(map[string]any); ok {
		inst.Credentials = Credentials{
			Username: stringValue(sse[KeyUsername]),
			Password: stringValue(sse[KeyPassword]),
			URI:      stringValue(sse[KeyURI]),
		}
	}
	return inst
}

// putOptions copies caller fields into p. Reserved keys never come from
// options.
func putOptions(p map[string]any, options map[string]any) {
	for k, v := range options {
		if IsReservedKey(k) {
			continue
		}
		p[k] = v
	}
}

func putString(p map[string]any, key, value string) {
	if value != "" {
		p[key] = value
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

func stringSet(v any) []string {
	var raw []string
	switch s := v.(type) {
	case []string:
		raw = s
	case []any:
		raw = make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				raw = append(raw, str)
			}
		}
	default:
		return nil
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
