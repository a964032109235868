package lifecycle_test

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fieldops/internal/custody"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/lifecycle"
	"github.com/ukydev/fieldops/internal/models"
)

var (
	day0 = time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC)

	alex = models.Session{TechnicianID: "tech-1", Username: "alex", Name: "Alex Rivera"}
	sam  = models.Session{TechnicianID: "tech-2", Username: "sam", Name: "Sam Okafor"}
)

// clock hands out strictly increasing instants one minute apart.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   db.Store
	engine  *lifecycle.Engine
	custody *custody.Coordinator
	clock   *clock
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func openStores() map[string]func(t *testing.T) db.Store {
	return map[string]func(t *testing.T) db.Store{
		"memory": func(t *testing.T) db.Store { return db.NewMemoryStore() },
		"sqlite": func(t *testing.T) db.Store {
			s, err := db.OpenSQLite(filepath.Join(t.TempDir(), "fieldops.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close(context.Background()) })
			return s
		},
	}
}

func newFixture(t *testing.T, store db.Store) *fixture {
	t.Helper()
	require.NoError(t, db.Seed(context.Background(), store, day0))
	c := &clock{now: day0}
	logger := quietLogger()
	coord := custody.New(store, custody.Options{Logger: logger, Now: c.Now})
	engine := lifecycle.New(store, lifecycle.Options{
		Logger:   logger,
		Now:      c.Now,
		Releaser: coord,
	})
	return &fixture{store: store, engine: engine, custody: coord, clock: c}
}

func forEachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, open := range openStores() {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, open(t)))
		})
	}
}

func (f *fixture) status(t *testing.T, jobID int64) models.JobStatus {
	t.Helper()
	job, err := f.store.FindJobByID(context.Background(), jobID)
	require.NoError(t, err)
	return job.Status()
}

// recorder collects published transitions.
type recorder struct {
	mu   sync.Mutex
	seen []lifecycle.Transition
	err  error
}

func (r *recorder) Publish(_ context.Context, tr lifecycle.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, tr)
	return r.err
}
