package model

import "testing"

func TestRequestBody_OmitsServerFields(t *testing.T) {
	inst := &Installation{
		ID:             "12345",
		DeviceToken:    "dt",
		Channels:       []string{"chan1"},
		AllowedSenders: []string{"g:anonymous"},
		Owner:          "u1",
		Options:        map[string]any{"email": "a@example.com", KeyPushType: "gcm"},
		Credentials:    Credentials{Username: "u", Password: "p", URI: "http://x"},
	}
	body := inst.RequestBody(Platform{OsType: "go", OsVersion: "linux/amd64", AppVersionString: "1.2.3"})

	for _, key := range []string{KeyID, KeyOwner, KeySSE} {
		if _, ok := body[key]; ok {
			t.Fatalf("expected %s to be omitted, got %v", key, body[key])
		}
	}
	if body["email"] != "a@example.com" {
		t.Fatalf("expected option flattened, got %v", body["email"])
	}
	if body[KeyPushType] != PushTypeSSE {
		t.Fatalf("expected push type %q to win over options, got %v", PushTypeSSE, body[KeyPushType])
	}
	if body[KeyAppVersionCode] != DefaultAppVersionCode {
		t.Fatalf("expected app version code -1, got %v", body[KeyAppVersionCode])
	}
	if body[KeyAppVersionString] != "1.2.3" || body[KeyDeviceToken] != "dt" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDecode_JSONShapes(t *testing.T) {
	p := map[string]any{
		KeyID:             "12345",
		KeyChannels:       []any{"a", "b", "a"},
		KeyAllowedSenders: []any{},
		KeyOwner:          nil,
		KeyAppVersionCode: float64(7),
		KeySSE:            map[string]any{KeyUsername: "u", KeyPassword: "p", KeyURI: "http://x"},
		KeyOptions:        map[string]any{"k": "v"},
	}
	inst := Decode(p)

	if inst.ID != "12345" || inst.Owner != "" {
		t.Fatalf("unexpected identity %+v", inst)
	}
	if len(inst.Channels) != 2 || inst.Channels[0] != "a" || inst.Channels[1] != "b" {
		t.Fatalf("expected deduplicated channels, got %v", inst.Channels)
	}
	if inst.AllowedSenders == nil || len(inst.AllowedSenders) != 0 {
		t.Fatalf("expected present but empty allowed senders, got %#v", inst.AllowedSenders)
	}
	if inst.AppVersionCode != 7 {
		t.Fatalf("expected app version code 7, got %d", inst.AppVersionCode)
	}
	if !inst.Credentials.Valid() {
		t.Fatalf("expected credentials, got %+v", inst.Credentials)
	}
	if inst.Options["k"] != "v" {
		t.Fatalf("expected options, got %v", inst.Options)
	}
}

func TestDecode_EmptyPayload(t *testing.T) {
	inst := Decode(map[string]any{})
	if inst.Registered() || inst.Channels != nil || inst.AllowedSenders != nil || inst.Options != nil {
		t.Fatalf("expected empty record, got %+v", inst)
	}
	if inst.AppVersionCode != DefaultAppVersionCode {
		t.Fatalf("expected default app version code, got %d", inst.AppVersionCode)
	}
}

func TestClone_Independent(t *testing.T) {
	inst := &Installation{Channels: []string{"a"}, Options: map[string]any{"k": "v"}}
	c := inst.Clone()
	c.Channels[0] = "b"
	c.Options["k"] = "w"
	if inst.Channels[0] != "a" || inst.Options["k"] != "v" {
		t.Fatalf("clone shares state with original")
	}
}

func TestOptions_NeverCarryReservedKeys(t *testing.T) {
	inst := &Installation{
		DeviceToken: "dt",
		Options: map[string]any{
			KeyID:    "forged",
			KeyOwner: "someone",
			KeySSE:   map[string]any{KeyUsername: "u"},
			"email":  "a@example.com",
		},
	}

	p := inst.Payload()
	for _, key := range []string{KeyID, KeyOwner, KeySSE} {
		if _, ok := p[key]; ok {
			t.Fatalf("expected option %s dropped from payload, got %v", key, p[key])
		}
	}
	if p["email"] != "a@example.com" {
		t.Fatalf("expected email kept, got %v", p["email"])
	}

	body := inst.RequestBody(Platform{})
	for _, key := range []string{KeyID, KeyOwner, KeySSE} {
		if _, ok := body[key]; ok {
			t.Fatalf("expected option %s dropped from request body, got %v", key, body[key])
		}
	}

	decoded := Decode(map[string]any{KeyOptions: map[string]any{KeyID: "forged", "email": "a@example.com"}})
	if decoded.Registered() {
		t.Fatalf("expected options bucket not to register the record, got id %q", decoded.ID)
	}
	if _, ok := decoded.Options[KeyID]; ok || decoded.Options["email"] != "a@example.com" {
		t.Fatalf("unexpected options %v", decoded.Options)
	}
}
