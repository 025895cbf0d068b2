package bootstrap

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"eatcloud/internal/lock"
	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/config"
	"eatcloud/internal/pkg/nacos"
	"eatcloud/internal/pkg/redis"
)

// OpenMySQL opens the service database. With auto_migrate set it creates the outbox
// table and the given models.
func OpenMySQL(s config.MySQLSettings, models ...any) (*gorm.DB, error) {
	dsn, err := s.NormalizedDSN()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "mysql pool")
	}
	sqlDB.SetMaxOpenConns(s.MaxOpenConns)
	sqlDB.SetMaxIdleConns(s.MaxOpenConns / 2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if s.AutoMigrate {
		all := append([]any{&outbox.Event{}}, models...)
		if err := db.AutoMigrate(all...); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
		log.Info().Int("tables", len(all)).Msg("schema migrated")
	}
	return db, nil
}

// NewLockManager builds the lock backend named by lock.backend. The redis client is
// only used by the redis backend and may be nil otherwise. The returned close func
// releases backend connections.
func NewLockManager(s *config.Settings, rc *redis.Client) (*lock.Manager, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch s.Lock.Backend {
	case "redis":
		if rc == nil {
			return nil, nil, errors.New("redis lock backend needs a redis client")
		}
		b, err := lock.NewRedis(rc, s.Lock.RetryInterval)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewManager(b), noop, nil
	case "zookeeper":
		conn, err := lock.DialZooKeeper(s.ZooKeeper.Servers, s.ZooKeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewManager(lock.NewZooKeeper(conn)), func(context.Context) error {
			conn.Close()
			return nil
		}, nil
	default:
		log.Warn().Msg("using in-process locks, only safe for a single instance")
		return lock.NewManager(lock.NewLocal(s.Lock.RetryInterval)), noop, nil
	}
}

// NewNacos returns the nacos client, or nil when registration is disabled.
func NewNacos(s config.NacosSettings) (*nacos.Client, error) {
	if !s.Enabled {
		return nil, nil
	}
	return nacos.NewClient(s.Addrs, s.Namespace, s.Group)
}

// TopicMapping merges the mapping file under the inline mapping and checks the
// required event types resolve.
func TopicMapping(s config.OutboxSettings) (*outbox.TopicMapping, error) {
	var maps []map[string]string
	if s.MappingFile != "" {
		fromFile, err := outbox.LoadMappingFile(s.MappingFile)
		if err != nil {
			return nil, err
		}
		maps = append(maps, fromFile)
	}
	maps = append(maps, s.Mapping)
	m := outbox.NewTopicMapping(maps...)
	if err := m.Validate(s.Required...); err != nil {
		return nil, err
	}
	return m, nil
}
