// Package installation keeps the device's push installation registered with
// the backend and mirrors the authoritative record locally.
package installation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/localstore"
	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/model"
	"ssepush-lite/internal/pusherr"
	"ssepush-lite/internal/rest"
)

const (
	pathInstallations = "/push/installations"
	pathInstallation  = "/push/installations/{installationId}"
	segmentID         = "installationId"
)

// Service owns the single live installation record of the process and the
// update lock that serializes re-registration.
type Service struct {
	store       *localstore.Store
	exec        rest.Executor
	log         logrus.FieldLogger
	platform    model.Platform
	deviceToken string
	lock        *UpdateLock
	validate    *validator.Validate

	initMu  sync.Mutex
	writeMu sync.Mutex
	current atomic.Pointer[model.Installation]
}

type registration struct {
	DeviceToken    string   `validate:"required"`
	Channels       []string `validate:"required,min=1"`
	AllowedSenders []string `validate:"required,min=1"`
}

func New(store *localstore.Store, exec rest.Executor, opts ...Option) *Service {
	s := &Service{
		store: store,
		exec:  exec,
		log:   logging.Discard(),
		platform: model.Platform{
			OsType:           "go",
			OsVersion:        runtime.GOOS + "/" + runtime.GOARCH,
			AppVersionString: "0",
		},
		deviceToken: uuid.NewString(),
		lock:        NewUpdateLock(),
		validate:    validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeviceToken is the token given to records that have none.
func (s *Service) DeviceToken() string { return s.deviceToken }

// Current returns a copy of the live record, loading it from the store on
// first use and after Reset. Modify the copy and pass it to Save.
func (s *Service) Current() (*model.Installation, error) {
	if inst := s.current.Load(); inst != nil {
		return inst.Clone(), nil
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()
	if inst := s.current.Load(); inst != nil {
		return inst.Clone(), nil
	}
	inst, err := s.store.LoadInstallation()
	if err != nil {
		return nil, err
	}
	if inst.DeviceToken == "" {
		inst.DeviceToken = s.deviceToken
	}
	s.current.Store(inst)
	return inst.Clone(), nil
}

// Reset drops the in-memory record. The next Current reloads it.
func (s *Service) Reset() {
	s.current.Store(nil)
}

func (s *Service) AcquireLock() error { return s.lock.Acquire() }

func (s *Service) ReleaseLock() { s.lock.Release() }

// Save creates inst on the backend, or fully replaces it when it already has
// an id, and adopts the backend's answer as the live record.
func (s *Service) Save(ctx context.Context, inst *model.Installation) (*model.Installation, error) {
	if inst == nil {
		return nil, pusherr.Validation("missing installation")
	}
	if err := s.validate.Struct(registration{
		DeviceToken:    inst.DeviceToken,
		Channels:       inst.Channels,
		AllowedSenders: inst.AllowedSenders,
	}); err != nil {
		return nil, pusherr.Validation("missing required fields: %s", fieldNames(err))
	}

	body := inst.RequestBody(s.platform)
	var req *rest.Request
	if inst.Registered() {
		req = s.exec.CreateRequest(pathInstallation, http.MethodPut).
			SetURLSegment(segmentID, inst.ID).
			SetJSONBody(map[string]any{model.KeyFullUpdate: body})
	} else {
		req = s.exec.CreateRequest(pathInstallations, http.MethodPost).
			SetJSONBody(body)
	}

	resp, err := s.exec.ExecuteRequestForJSON(ctx, req)
	if err != nil {
		return nil, s.handleFailure(inst.ID, err)
	}
	saved, err := s.adopt(resp)
	if err != nil {
		return nil, err
	}
	s.log.WithField("installation_id", saved.ID).Info("installation saved")
	return saved, nil
}

// Refresh replaces the live record with the backend's copy.
func (s *Service) Refresh(ctx context.Context) (*model.Installation, error) {
	inst, err := s.Current()
	if err != nil {
		return nil, err
	}
	if !inst.Registered() {
		return nil, pusherr.Validation("not registered")
	}

	req := s.exec.CreateRequest(pathInstallation, http.MethodGet).
		SetURLSegment(segmentID, inst.ID)
	resp, err := s.exec.ExecuteRequestForJSON(ctx, req)
	if err != nil {
		return nil, s.handleFailure(inst.ID, err)
	}
	return s.adopt(resp)
}

// Delete removes the installation from the backend and purges local state.
// A 404 still purges, and the 404 is returned.
func (s *Service) Delete(ctx context.Context) error {
	inst, err := s.Current()
	if err != nil {
		return err
	}
	if !inst.Registered() {
		return pusherr.Validation("not registered")
	}

	req := s.exec.CreateRequest(pathInstallation, http.MethodDelete).
		SetURLSegment(segmentID, inst.ID)
	if _, err := s.exec.ExecuteRequest(ctx, req); err != nil {
		return s.handleFailure(inst.ID, err)
	}
	s.log.WithField("installation_id", inst.ID).Info("installation deleted")
	return s.purge()
}

// List returns every installation of the application. It needs the master
// key.
func (s *Service) List(ctx context.Context) ([]*model.Installation, error) {
	req := s.exec.CreateRequest(pathInstallations, http.MethodGet).UseMasterKey()
	resp, err := s.exec.ExecuteRequestForJSON(ctx, req)
	if err != nil {
		return nil, err
	}
	var raw []any
	if v, present := resp["results"]; present {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("installation: list response results is %T, want array", v)
		}
		raw = list
	}
	out := make([]*model.Installation, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("installation: list result %d is %T, want object", i, r)
		}
		out = append(out, model.Decode(localstore.Partition(m)))
	}
	return out, nil
}

// adopt persists a backend answer and swaps it in as the live record.
func (s *Service) adopt(resp map[string]any) (*model.Installation, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.store.SavePayload(resp); err != nil {
		return nil, fmt.Errorf("persist installation: %w", err)
	}
	inst := model.Decode(localstore.Partition(resp))
	if inst.DeviceToken == "" {
		inst.DeviceToken = s.deviceToken
	}
	s.current.Store(inst)
	return inst.Clone(), nil
}

// purge forgets the installation locally. The device token survives.
func (s *Service) purge() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.store.Clear()
	s.current.Store(model.Empty(s.deviceToken))
	return err
}

func (s *Service) handleFailure(id string, err error) error {
	if !pusherr.IsNotFound(err) {
		return err
	}
	s.log.WithField("installation_id", id).Warn("installation not found on backend, purging")
	if perr := s.purge(); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func fieldNames(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return strings.Join(names, ", ")
}
