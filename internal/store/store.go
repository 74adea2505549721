// Package store is the development backend's installation registry.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/localstore"
	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/model"
)

var (
	ErrNotFound            = errors.New("installation not found")
	ErrDeviceTokenConflict = errors.New("device token belongs to another installation")
)

// CredentialIssuer mints stream credentials for an installation id.
type CredentialIssuer func(installationID string) (model.Credentials, error)

type Options struct {
	StateFile string
	Issuer    CredentialIssuer
	Logger    logrus.FieldLogger
}

type Store struct {
	mu sync.RWMutex

	byID            map[string]*record
	idByDeviceToken map[string]string

	state     *localstore.FileSlot
	persistMu sync.Mutex
	issue     CredentialIssuer
	log       logrus.FieldLogger
}

type record struct {
	inst      *model.Installation
	createdAt int64
	updatedAt int64
}

func New() *Store {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Store {
	s := &Store{
		byID:            make(map[string]*record),
		idByDeviceToken: make(map[string]string),
		issue:           opts.Issuer,
		log:             opts.Logger,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.issue == nil {
		s.issue = func(string) (model.Credentials, error) { return model.Credentials{}, nil }
	}

	if opts.StateFile != "" {
		s.state = localstore.NewFileSlot(opts.StateFile)
		if err := s.load(); err != nil {
			s.log.WithError(err).WithField("file", opts.StateFile).Warn("installations state: load failed")
		}
	}
	return s
}

// Create registers inst. An installation with the same device token is
// replaced instead, keeping its id. created reports which happened.
func (s *Store) Create(inst *model.Installation, nowMillis int64) (*model.Installation, bool, error) {
	s.mu.Lock()
	id, exists := s.idByDeviceToken[inst.DeviceToken]
	if !exists || inst.DeviceToken == "" {
		id = uuid.NewString()
	}
	out, err := s.putLocked(id, inst, nowMillis)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	s.persist(snapshot)
	return out, !exists, nil
}

// Replace overwrites every caller field of an existing installation.
func (s *Store) Replace(id string, inst *model.Installation, nowMillis int64) (*model.Installation, error) {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if other, ok := s.idByDeviceToken[inst.DeviceToken]; ok && other != id {
		s.mu.Unlock()
		return nil, ErrDeviceTokenConflict
	}
	out, err := s.putLocked(id, inst, nowMillis)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.persist(snapshot)
	return out, nil
}

// Merge applies fields over an existing installation. A null value removes an
// option. Server owned keys are ignored.
func (s *Store) Merge(id string, fields map[string]any, nowMillis int64) (*model.Installation, error) {
	s.mu.RLock()
	rec, ok := s.byID[id]
	var payload map[string]any
	if ok {
		payload = rec.inst.Payload()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	for k, v := range fields {
		if ServerOwned(k) {
			continue
		}
		if v == nil {
			delete(payload, k)
			continue
		}
		payload[k] = v
	}
	return s.Replace(id, model.Decode(localstore.Partition(payload)), nowMillis)
}

func (s *Store) Get(id string) (*model.Installation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return rec.inst.Clone(), true
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	rec, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		if s.idByDeviceToken[rec.inst.DeviceToken] == id {
			delete(s.idByDeviceToken, rec.inst.DeviceToken)
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if ok {
		s.persist(snapshot)
	}
	return ok
}

// List returns every installation ordered by id.
func (s *Store) List() []*model.Installation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Installation, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec.inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SubscribedTo returns the ids of installations listening on any of channels.
func (s *Store) SubscribedTo(channels []string) []string {
	want := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		want[ch] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.byID {
		for _, ch := range rec.inst.Channels {
			if _, ok := want[ch]; ok {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// ServerOwned reports keys clients may not set.
func ServerOwned(key string) bool {
	return key == model.KeyID || key == model.KeyOwner || key == model.KeySSE
}

func (s *Store) putLocked(id string, inst *model.Installation, nowMillis int64) (*model.Installation, error) {
	creds, err := s.issue(id)
	if err != nil {
		return nil, fmt.Errorf("issue credentials: %w", err)
	}

	next := inst.Clone()
	next.ID = id
	next.Owner = ""
	next.Credentials = creds
	if next.PushType == "" {
		next.PushType = model.PushTypeSSE
	}

	rec, ok := s.byID[id]
	if !ok {
		rec = &record{createdAt: nowMillis}
		s.byID[id] = rec
	} else if rec.inst.DeviceToken != next.DeviceToken && s.idByDeviceToken[rec.inst.DeviceToken] == id {
		delete(s.idByDeviceToken, rec.inst.DeviceToken)
	}
	rec.inst = next
	rec.updatedAt = nowMillis
	if next.DeviceToken != "" {
		s.idByDeviceToken[next.DeviceToken] = id
	}
	return next.Clone(), nil
}

type persistedFile struct {
	Version       int                     `json:"version"`
	Installations []persistedInstallation `json:"installations"`
	SavedAt       int64                   `json:"savedAt"`
}

type persistedInstallation struct {
	Record    map[string]any `json:"record"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
}

func (s *Store) snapshotLocked() []persistedInstallation {
	if s.state == nil {
		return nil
	}
	out := make([]persistedInstallation, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, persistedInstallation{
			Record:    localstore.Partition(rec.inst.Payload()),
			CreatedAt: rec.createdAt,
			UpdatedAt: rec.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i].Record[model.KeyID]) < fmt.Sprint(out[j].Record[model.KeyID])
	})
	return out
}

func (s *Store) persist(snapshot []persistedInstallation) {
	if s.state == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	file := persistedFile{Version: 1, Installations: snapshot, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		s.log.WithError(err).Warn("installations state: marshal failed")
		return
	}
	data = append(data, '\n')
	if err := s.state.Write(data); err != nil {
		s.log.WithError(err).WithField("file", s.state.Path()).Warn("installations state: write failed")
	}
}

func (s *Store) load() error {
	data, err := s.state.Read()
	if err != nil {
		if errors.Is(err, localstore.ErrSlotNotFound) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported installations state version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range file.Installations {
		inst := model.Decode(p.Record)
		if inst.ID == "" {
			continue
		}
		s.byID[inst.ID] = &record{inst: inst, createdAt: p.CreatedAt, updatedAt: p.UpdatedAt}
		if inst.DeviceToken != "" {
			s.idByDeviceToken[inst.DeviceToken] = inst.ID
		}
	}
	return nil
}
