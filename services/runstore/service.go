// Package runstore persists the results of terminated runs.
package runstore

import (
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/services/storage"
)

const resultsNamespace = "run_results"

type Diagnostic interface {
	SavedResult(run string, status kettle.Status)
	PrunedResults(n int)
}

type Service struct {
	StorageService interface {
		Store(namespace string) storage.Interface
	}
	Clock clock.Clock

	c    Config
	diag Diagnostic
	dao  ResultDAO
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		Clock: clock.New(),
		c:     c,
		diag:  d,
	}
}

func (s *Service) Open() error {
	if s.StorageService == nil {
		return errors.New("runstore requires a storage service")
	}
	s.dao = newResultKV(s.StorageService.Store(resultsNamespace))
	return nil
}

func (s *Service) Close() error {
	return nil
}

// SaveResult stores the result of a run and prunes the oldest results.
func (s *Service) SaveResult(r kettle.Result) error {
	if err := s.dao.Put(Record{Saved: s.Clock.Now().UTC(), Result: r}); err != nil {
		return errors.Wrapf(err, "save result of run %s", r.RunID)
	}
	s.diag.SavedResult(r.RunID, r.Status)
	if s.c.MaxResults <= 0 {
		return nil
	}
	old, err := s.dao.List("", s.c.MaxResults, 0)
	if err != nil {
		return errors.Wrap(err, "list results to prune")
	}
	for _, rec := range old {
		if err := s.dao.Delete(rec.Result.RunID); err != nil {
			return errors.Wrapf(err, "prune result of run %s", rec.Result.RunID)
		}
	}
	if len(old) > 0 {
		s.diag.PrunedResults(len(old))
	}
	return nil
}

// Result returns the stored result of a run.
func (s *Service) Result(run string) (Record, error) {
	return s.dao.Get(run)
}

// Results lists stored results of pipelines matching pattern, newest first.
func (s *Service) Results(pattern string, offset, limit int) ([]Record, error) {
	return s.dao.List(pattern, offset, limit)
}
