package installation

import (
	"github.com/sirupsen/logrus"
)

type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithAppVersion sets the version string reported on every save.
func WithAppVersion(v string) Option {
	return func(s *Service) { s.platform.AppVersionString = v }
}

func WithPlatform(osType, osVersion string) Option {
	return func(s *Service) {
		s.platform.OsType = osType
		s.platform.OsVersion = osVersion
	}
}

// WithDeviceToken fixes the token assigned to records that have none.
func WithDeviceToken(token string) Option {
	return func(s *Service) {
		if token != "" {
			s.deviceToken = token
		}
	}
}

// WithLock shares an update lock between services.
func WithLock(l *UpdateLock) Option {
	return func(s *Service) {
		if l != nil {
			s.lock = l
		}
	}
}
