// internal/pkg/config/settings.go
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

type Settings struct {
	App       AppSettings       `mapstructure:"app"`
	Log       LogSettings       `mapstructure:"log"`
	MySQL     MySQLSettings     `mapstructure:"mysql"`
	Redis     RedisSettings     `mapstructure:"redis"`
	ZooKeeper ZooKeeperSettings `mapstructure:"zookeeper"`
	Lock      LockSettings      `mapstructure:"lock"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Jaeger    JaegerSettings    `mapstructure:"jaeger"`
	Nacos     NacosSettings     `mapstructure:"nacos"`
	Outbox    OutboxSettings    `mapstructure:"outbox"`
	Saga      SagaSettings      `mapstructure:"saga"`
	Cart      CartSettings      `mapstructure:"cart"`
	Inventory InventorySettings `mapstructure:"inventory"`
}

type AppSettings struct {
	Name string `mapstructure:"name" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Env  string `mapstructure:"env"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type MySQLSettings struct {
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"min=1"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisSettings struct {
	Addrs string `mapstructure:"addrs"`
}

type ZooKeeperSettings struct {
	Servers        []string      `mapstructure:"servers"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

type LockSettings struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=redis zookeeper local"`
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
}

type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers" validate:"required,min=1"`
	GroupID string   `mapstructure:"group_id" validate:"required"`
	// MaxRetries is how often a failed message is re-queued before it goes to <topic>.dlt.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`
	// RetryBackoff is the first pause of an in-place retry; it doubles per attempt.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"gt=0"`
}

type JaegerSettings struct {
	Endpoint string  `mapstructure:"endpoint" validate:"omitempty,url"`
	Ratio    float64 `mapstructure:"ratio" validate:"min=0,max=1"`
}

type NacosSettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addrs     string `mapstructure:"addrs"`
	Namespace string `mapstructure:"namespace"`
	Group     string `mapstructure:"group"`
}

type OutboxSettings struct {
	PollInterval time.Duration     `mapstructure:"poll_interval" validate:"gt=0"`
	BatchSize    int               `mapstructure:"batch_size" validate:"min=1,max=1000"`
	Mapping      map[string]string `mapstructure:"mapping"`
	MappingFile  string            `mapstructure:"mapping_file"`
	Required     []string          `mapstructure:"required"`
}

type SagaSettings struct {
	LockWait          time.Duration `mapstructure:"lock_wait" validate:"gt=0"`
	LockLease         time.Duration `mapstructure:"lock_lease" validate:"gt=0"`
	ReplyTimeout      time.Duration `mapstructure:"reply_timeout" validate:"gt=0"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout" validate:"gt=0"`
	PointsRule        string        `mapstructure:"points_rule" validate:"required"`
}

type CartSettings struct {
	Backend string `mapstructure:"backend" validate:"oneof=redis http"`
	// Service is the nacos service name (or host:port when nacos is disabled) of the cart service.
	Service string `mapstructure:"service"`
}

type InventorySettings struct {
	LockWait       time.Duration `mapstructure:"lock_wait" validate:"gt=0"`
	LockLease      time.Duration `mapstructure:"lock_lease" validate:"gt=0"`
	ReservationTTL time.Duration `mapstructure:"reservation_ttl" validate:"gt=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	SweepBatch     int           `mapstructure:"sweep_batch" validate:"min=1"`
}

// Validate checks field constraints and the cross-section rules validator tags cannot express.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	if _, err := mysql.ParseDSN(s.MySQL.DSN); err != nil {
		return errors.Wrap(err, "invalid mysql.dsn")
	}
	switch s.Lock.Backend {
	case "redis":
		if s.Redis.Addrs == "" {
			return errors.New("lock.backend=redis requires redis.addrs")
		}
	case "zookeeper":
		if len(s.ZooKeeper.Servers) == 0 {
			return errors.New("lock.backend=zookeeper requires zookeeper.servers")
		}
	}
	if s.Cart.Backend == "redis" && s.Redis.Addrs == "" {
		return errors.New("cart.backend=redis requires redis.addrs")
	}
	// the customer lock must outlive the saga it guards
	if s.Saga.ProcessingTimeout >= s.Saga.LockLease {
		return errors.Errorf("saga.processing_timeout (%s) must be shorter than saga.lock_lease (%s)",
			s.Saga.ProcessingTimeout, s.Saga.LockLease)
	}
	if s.Nacos.Enabled && s.Nacos.Addrs == "" {
		return errors.New("nacos.enabled requires nacos.addrs")
	}
	return nil
}

// NormalizedDSN returns the configured DSN with parseTime forced on, which the GORM models rely on.
func (m MySQLSettings) NormalizedDSN() (string, error) {
	cfg, err := mysql.ParseDSN(m.DSN)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}
