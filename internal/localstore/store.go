// Package localstore persists the device's installation record.
//
// The persisted object keeps every reserved installation field at top level
// and moves all other keys under a single "options" object:
//
//	{"_id":"...","_channels":["a"],"_sse":{...},"options":{"email":"..."}}
package localstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"ssepush-lite/internal/model"
	"ssepush-lite/internal/pusherr"
)

type Store struct {
	mu   sync.Mutex
	slot Slot
}

func New(slot Slot) *Store {
	return &Store{slot: slot}
}

// Save persists a record, replacing whatever was stored before.
func (s *Store) Save(inst *model.Installation) error {
	return s.SavePayload(inst.Payload())
}

// SavePayload persists a flattened installation payload such as a backend
// response. A nil payload is ignored.
func (s *Store) SavePayload(raw map[string]any) error {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(Partition(raw))
	if err != nil {
		return &pusherr.StorageError{Op: "encode", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.slot.Write(data); err != nil {
		return &pusherr.StorageError{Op: "write", Err: err}
	}
	return nil
}

// Load returns the partitioned payload, or an empty one when nothing is
// persisted.
func (s *Store) Load() (map[string]any, error) {
	s.mu.Lock()
	data, err := s.slot.Read()
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return map[string]any{}, nil
		}
		return nil, &pusherr.StorageError{Op: "read", Err: err}
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	var p map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, &pusherr.StorageError{Op: "decode", Err: err}
	}
	if p == nil {
		p = map[string]any{}
	}
	return p, nil
}

// LoadInstallation is Load followed by model.Decode.
func (s *Store) LoadInstallation() (*model.Installation, error) {
	p, err := s.Load()
	if err != nil {
		return nil, err
	}
	return model.Decode(p), nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.slot.Delete(); err != nil {
		return &pusherr.StorageError{Op: "delete", Err: err}
	}
	return nil
}

// Partition keeps reserved keys at top level and moves every other key under
// model.KeyOptions. The input is not modified.
func Partition(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	var options map[string]any
	for k, v := range raw {
		if model.IsReservedKey(k) {
			out[k] = v
			continue
		}
		if options == nil {
			options = make(map[string]any)
		}
		options[k] = v
	}
	if options != nil {
		out[model.KeyOptions] = options
	}
	return out
}
