package test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gartstein/priority/internal/priority/controller"
	"github.com/gartstein/priority/internal/priority/db"
	"github.com/gartstein/priority/internal/priority/events"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/gartstein/priority/internal/priority/fixtures"
	"github.com/gartstein/priority/internal/priority/labels"
	"github.com/gartstein/priority/internal/priority/models"
	"github.com/gartstein/priority/internal/priority/ranker"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type IntegrationTestSuite struct {
	suite.Suite
	pool     *dockertest.Pool
	resource *dockertest.Resource
	dbConf   *db.Config
	dbRepo   *db.Repository
	logger   *zap.Logger
	timeout  time.Duration
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests")
	}
	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.logger = zap.NewNop()
	s.timeout = 30 * time.Second

	pool, err := dockertest.NewPool("")
	if err != nil {
		s.T().Skip("docker unavailable:", err)
	}
	s.pool = pool

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env: []string{
			"POSTGRES_PASSWORD=test",
			"POSTGRES_USER=test",
			"POSTGRES_DB=test",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		s.T().Fatal("could not start postgres:", err)
	}
	s.resource = resource
	_ = resource.Expire(300)

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		s.T().Fatal("invalid postgres port:", err)
	}
	s.dbConf = &db.Config{
		Driver:      db.DriverPostgres,
		Host:        "127.0.0.1",
		Port:        port,
		User:        "test",
		Password:    "test",
		DBName:      "test",
		SSLMode:     "disable",
		OpenRetries: 3,
	}

	repo, err := initializeDBWithRetry(s.dbConf)
	if err != nil {
		s.T().Fatal("Database initialization failed:", err)
	}
	s.dbRepo = repo
}

func initializeDBWithRetry(cfg *db.Config) (*db.Repository, error) {
	var repo *db.Repository
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	err := backoff.Retry(func() error {
		var err error
		repo, err = db.NewRepository(cfg)
		return err
	}, policy)
	return repo, err
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.dbRepo != nil {
		_ = s.dbRepo.Close()
	}
	if s.pool != nil && s.resource != nil {
		if err := s.pool.Purge(s.resource); err != nil {
			s.T().Log("could not purge postgres:", err)
		}
	}
}

func (s *IntegrationTestSuite) SetupTest() {
	if s.dbRepo == nil {
		s.T().Fatal("Database connection not initialized")
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.dbRepo.ReplaceRecords(ctx, fixtures.Records()); err != nil {
		s.T().Fatal("Failed to seed database:", err)
	}
}

// trainModel fits a model on the stored records the way the training job does.
func (s *IntegrationTestSuite) trainModel(ctx context.Context, path string) {
	set, err := db.NewLoader(s.dbConf, nil, s.logger).LoadRecords(ctx)
	s.Require().NoError(err)

	cfg := features.DefaultConfig()
	cfg.ReferenceYear = fixtures.ReferenceYear
	matrix := features.NewExtractor(cfg, s.logger).Extract(set)

	model := ranker.New(s.logger)
	_, err = model.Train(ctx, matrix, labels.Build(set).Labels, matrix.Columns(), 0.2, "integration")
	s.Require().NoError(err)
	s.Require().NoError(model.Save(path, ""))
}

func (s *IntegrationTestSuite) newService(modelPath string) *controller.RankingService {
	cfg := features.DefaultConfig()
	cfg.ReferenceYear = fixtures.ReferenceYear
	svc, err := controller.NewRankingService(controller.Config{
		ModelPath: modelPath,
		Features:  cfg,
	}, db.NewLoader(s.dbConf, s.dbRepo, s.logger), s.logger)
	s.Require().NoError(err)
	return svc
}

func (s *IntegrationTestSuite) TestPostgresRoundTrip() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	set, err := s.dbRepo.LoadRecords(ctx)
	s.Require().NoError(err)
	s.Equal(fixtures.Equipment(), set.Equipment)
	s.Equal(fixtures.Relationships(), set.Relationships)
	s.True(set.RelationshipsAvailable)
}

func (s *IntegrationTestSuite) TestHeuristicThenModelAfterTrainingEvent() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	modelPath := filepath.Join(s.T().TempDir(), "priority.pb")
	svc := s.newService(modelPath)

	list := svc.GetRankedList(ctx, controller.RankQuery{})
	s.Equal(models.SourceHeuristic, list.Source)
	s.Len(list.Entries, 30)
	s.Equal(controller.StateHeuristicOnly, svc.Status().State)

	s.trainModel(ctx, modelPath)

	event := events.NewEvent(events.ModelTrained)
	event.ModelPath = modelPath
	s.Require().NoError(events.ServiceHandler(svc, s.logger)(ctx, event))

	s.Equal(controller.StateModelLoaded, svc.Status().State)
	list = svc.GetRankedList(ctx, controller.RankQuery{GroupFilter: "blast", TopK: 3})
	s.Equal(models.SourceModel, list.Source)
	s.Len(list.Entries, 3)
}

func (s *IntegrationTestSuite) TestRecordsReloadedEventRefreshesRanking() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	svc := s.newService(filepath.Join(s.T().TempDir(), "absent.pb"))
	s.Len(svc.GetRankedList(ctx, controller.RankQuery{}).Entries, 30)

	extra := models.RecordSet{Equipment: []models.EquipmentRecord{{
		Company:       "Omega Metals",
		EquipmentType: "Blast Furnace",
		Country:       "Chile",
		Supplier:      "SMS group",
	}}}
	s.Require().NoError(s.dbRepo.AppendRecords(ctx, extra))

	// The memoised matrix hides new rows until the cache is cleared.
	s.Len(svc.GetRankedList(ctx, controller.RankQuery{}).Entries, 30)

	s.Require().NoError(events.ServiceHandler(svc, s.logger)(ctx, events.NewEvent(events.RecordsReloaded)))
	list := svc.GetRankedList(ctx, controller.RankQuery{})
	s.Len(list.Entries, 31)

	score, _ := svc.ScoreSingle(ctx, "omega", "")
	s.NotEqual(controller.NeutralScore, score)
}
