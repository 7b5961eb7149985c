package dig_container

import (
	"context"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/sghajdao/Canvas-Attendance-lti/apps/api/echo"
	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
	"github.com/sghajdao/Canvas-Attendance-lti/core/roster"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
	cachesvc "github.com/sghajdao/Canvas-Attendance-lti/services/cache"
	canvassvc "github.com/sghajdao/Canvas-Attendance-lti/services/canvas"
	logsvc "github.com/sghajdao/Canvas-Attendance-lti/services/logger"
	"github.com/sghajdao/Canvas-Attendance-lti/storage/database"
	inmemdb "github.com/sghajdao/Canvas-Attendance-lti/storage/database/inmem"
	sqlxrepos "github.com/sghajdao/Canvas-Attendance-lti/storage/database/sqlx"
)

const engineInmem = "inmem"

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage.DB is nil when the in-memory engine is configured.
type Storage struct {
	dig.Out
	DB             *sqlx.DB
	AttendanceRepo attendance.Repository
	TokenRepo      vault.Repository
}

func newConfig() (*core.Config, error) {
	conf, err := core.NewConfig()
	if err != nil {
		return nil, err
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf, "API : ", log.LstdFlags), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.Engine == engineInmem {
		loggerParam.Logger.Warn("using the in-memory database; nothing will be persisted")
		mem := inmemdb.Open()
		return Storage{
			AttendanceRepo: inmemdb.NewAttendanceRepository(mem),
			TokenRepo:      inmemdb.NewTokenRepository(mem),
		}
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Storage{
		DB:             db,
		AttendanceRepo: sqlxrepos.NewAttendanceRepository(db),
		TokenRepo:      sqlxrepos.NewTokenRepository(db),
	}
}

// newRedisClient returns nil when Redis is not configured or does not answer; rosters are then not cached.
func newRedisClient(conf *core.Config, logger core.Logger) *redis.Client {
	client, err := cachesvc.Connect(context.Background(), conf)
	if err != nil {
		logger.Warn(fmt.Sprintf("roster cache disabled: %v", err))
		return nil
	}
	if client != nil {
		logger.Info(fmt.Sprintf("caching rosters in redis at %s", conf.Redis.Address))
	}
	return client
}

func newRosterCache(client *redis.Client, conf *core.Config) roster.Cache {
	if client == nil {
		return nil
	}
	return cachesvc.NewRosterCache(client, conf)
}

func newRosterTokens(svc vault.Service) roster.Tokens {
	return svc
}

func newServerDeps(
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	attendanceSvc attendance.Service,
	vaultSvc vault.Service,
	rosterSvc roster.Service,
) *echoapi.Deps {
	return &echoapi.Deps{
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		AttendanceSvc: attendanceSvc,
		VaultSvc:      vaultSvc,
		RosterSvc:     rosterSvc,
	}
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(newConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(canvassvc.NewClient, dig.As(new(roster.CanvasAPI))))
	must(c.Provide(canvassvc.NewOAuth, dig.As(new(vault.TokenSource))))
	must(c.Provide(newRedisClient))
	must(c.Provide(newRosterCache))
	must(c.Provide(attendance.NewService))
	must(c.Provide(vault.NewService))
	must(c.Provide(newRosterTokens))
	must(c.Provide(roster.NewService))
	must(c.Provide(newServerDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
