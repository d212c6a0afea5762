// Package server builds the services of the kettled process from a Config
// and manages their startup and shutdown.
package server

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/operations"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
	"github.com/pentaho/pentaho-kettle-sub148/registry"
	"github.com/pentaho/pentaho-kettle-sub148/services/diagnostic"
	"github.com/pentaho/pentaho-kettle-sub148/services/logging"
	"github.com/pentaho/pentaho-kettle-sub148/services/metrics"
	"github.com/pentaho/pentaho-kettle-sub148/services/runstore"
	"github.com/pentaho/pentaho-kettle-sub148/services/storage"
)

// Service is a component opened and closed by the server.
type Service interface {
	Open() error
	Close() error
}

type Diagnostic interface {
	Opened(services int)
	Closed()
	Error(msg string, err error)
}

// Server is a container for the engine and the services it depends on.
type Server struct {
	config *Config

	Engine    *kettle.Engine
	Registry  *registry.Registry
	Collector *operations.Collector

	DiagService    *diagnostic.Service
	StorageService *storage.Service
	RunStore       *runstore.Service
	MetricsService *metrics.Service

	// List of services in startup order
	Services []Service
	// Map of service name to index in Services list
	ServicesByName map[string]int

	LogService logging.Interface
	diag       Diagnostic
}

// New returns a new instance of Server built from a config.
func New(c *Config, logService logging.Interface) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s. To generate a valid configuration file run `kettled config > kettle.generated.conf`.", err)
	}
	ds := diagnostic.NewService(logService.Root())
	s := &Server{
		config:         c,
		DiagService:    ds,
		LogService:     logService,
		ServicesByName: make(map[string]int),
		diag:           ds.NewServerHandler(),
	}
	s.AppendService("diagnostic", ds)

	s.appendStorageService()
	s.appendRunStoreService()
	s.appendMetricsService()
	if err := s.appendRegistry(); err != nil {
		return nil, errors.Wrap(err, "registry")
	}

	s.Engine = kettle.NewEngine(s.Registry, c.Engine.Options(), ds.NewEngineHandler())
	if s.RunStore != nil {
		s.Engine.RunStore = s.RunStore
	}
	if s.MetricsService != nil {
		s.Engine.Metrics = s.MetricsService
	}
	return s, nil
}

func (s *Server) AppendService(name string, srv Service) {
	if _, ok := s.ServicesByName[name]; ok {
		// Should be unreachable code
		panic("cannot append service twice")
	}
	i := len(s.Services)
	s.Services = append(s.Services, srv)
	s.ServicesByName[name] = i
}

func (s *Server) appendStorageService() {
	srv := storage.NewService(s.config.Storage, s.DiagService.NewStorageHandler())
	s.StorageService = srv
	s.AppendService("storage", srv)
}

func (s *Server) appendRunStoreService() {
	if !s.config.RunStore.Enabled {
		return
	}
	srv := runstore.NewService(s.config.RunStore, s.DiagService.NewRunStoreHandler())
	srv.StorageService = s.StorageService
	s.RunStore = srv
	s.AppendService("runstore", srv)
}

func (s *Server) appendMetricsService() {
	if !s.config.Metrics.Enabled {
		return
	}
	srv := metrics.NewService(s.config.Metrics, s.DiagService.NewMetricsHandler())
	s.MetricsService = srv
	s.AppendService("metrics", srv)
}

func (s *Server) appendRegistry() error {
	s.Registry = registry.New()
	s.Collector = operations.NewCollector(s.config.Engine.CollectLimit)
	if err := operations.Register(s.Registry, s.Collector); err != nil {
		return err
	}
	s.AppendService("registry", s.Registry)
	return nil
}

// Open opens all the services in startup order.
func (s *Server) Open() error {
	for _, service := range s.Services {
		if err := service.Open(); err != nil {
			s.Close()
			return fmt.Errorf("open service %T: %s", service, err)
		}
	}
	s.diag.Opened(len(s.Services))
	return nil
}

// Close stops every active run, then closes the services in reverse order.
func (s *Server) Close() error {
	if err := s.Engine.Close(); err != nil {
		s.diag.Error("error closing engine", err)
	}
	s.diag.Closed()
	var first error
	for i := len(s.Services) - 1; i >= 0; i-- {
		service := s.Services[i]
		if err := service.Close(); err != nil {
			if first == nil {
				first = errors.Wrapf(err, "close service %T", service)
			}
			// The diagnostic service is closed last, the logger is still usable.
			s.diag.Error("error closing service", err)
		}
	}
	return first
}

// Run compiles p, executes it and waits for the result.
func (s *Server) Run(ctx context.Context, p *pipeline.Pipeline, opts kettle.Options) (kettle.Result, error) {
	g, err := pipeline.Compile(p)
	if err != nil {
		return kettle.Result{}, errors.Wrap(err, "compile")
	}
	r, err := s.Engine.Start(ctx, g, opts)
	if err != nil {
		if r != nil {
			res, _ := r.AwaitCompletion(context.Background())
			return res, err
		}
		return kettle.Result{}, err
	}
	// The run stops on ctx, wait for its result regardless.
	return r.AwaitCompletion(context.Background())
}
