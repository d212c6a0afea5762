// Package diagnostic implements the Diagnostic interfaces of the engine and
// the services over a zap logger.
package diagnostic

import (
	"go.uber.org/zap"
)

type Service struct {
	logger *zap.Logger
}

func NewService(l *zap.Logger) *Service {
	if l == nil {
		l = zap.NewNop()
	}
	return &Service{logger: l}
}

func (s *Service) Open() error {
	return nil
}

func (s *Service) Close() error {
	// Syncing a terminal fails on some platforms.
	_ = s.logger.Sync()
	return nil
}

// Logger returns the logger of the named service.
func (s *Service) Logger(service string) *zap.Logger {
	return s.logger.With(zap.String("service", service))
}

func (s *Service) NewEngineHandler() *Handler {
	return NewHandler(s.logger.With(zap.String("service", "engine")))
}

func (s *Service) NewStorageHandler() *StorageHandler {
	return &StorageHandler{l: s.logger.With(zap.String("service", "storage"))}
}

func (s *Service) NewRunStoreHandler() *RunStoreHandler {
	return &RunStoreHandler{l: s.logger.With(zap.String("service", "runstore"))}
}

func (s *Service) NewServerHandler() *ServerHandler {
	return &ServerHandler{l: s.logger.With(zap.String("service", "server"))}
}

func (s *Service) NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{l: s.logger.With(zap.String("service", "metrics"))}
}
