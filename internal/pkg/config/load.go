// internal/pkg/config/load.go
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "EATCLOUD"

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("app.name", service)
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("mysql.dsn", "root:root@tcp(localhost:3306)/eatcloud")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.auto_migrate", false)

	v.SetDefault("redis.addrs", "localhost:6379")

	v.SetDefault("zookeeper.servers", []string{"localhost:2181"})
	v.SetDefault("zookeeper.session_timeout", 10*time.Second)

	v.SetDefault("lock.backend", "redis")
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", service)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 200*time.Millisecond)

	v.SetDefault("jaeger.endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("jaeger.ratio", 1.0)

	v.SetDefault("nacos.enabled", false)
	v.SetDefault("nacos.addrs", "localhost:8848")
	v.SetDefault("nacos.namespace", "")
	v.SetDefault("nacos.group", "DEFAULT_GROUP")

	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.mapping_file", "")
	v.SetDefault("outbox.required", []string{})

	v.SetDefault("saga.lock_wait", 5*time.Second)
	v.SetDefault("saga.lock_lease", 40*time.Second)
	v.SetDefault("saga.reply_timeout", 5*time.Second)
	v.SetDefault("saga.processing_timeout", 30*time.Second)
	v.SetDefault("saga.points_rule", "points >= 0 && points <= total")

	v.SetDefault("cart.backend", "redis")
	v.SetDefault("cart.service", "cart-service")

	v.SetDefault("inventory.lock_wait", 300*time.Millisecond)
	v.SetDefault("inventory.lock_lease", 4*time.Second)
	v.SetDefault("inventory.reservation_ttl", 10*time.Minute)
	v.SetDefault("inventory.sweep_interval", 30*time.Second)
	v.SetDefault("inventory.sweep_batch", 100)
}

// Load reads <dir>/<service>.yaml, merges <dir>/<service>.<env>.yaml over it and applies
// EATCLOUD_* environment overrides (EATCLOUD_MYSQL_DSN overrides mysql.dsn).
// Missing files are not an error; the defaults plus env must then be enough to validate.
func Load(dir, service string) (*Settings, error) {
	v := viper.New()
	setDefaults(v, service)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetConfigName(service)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "read %s config", service)
		}
	}

	if env := v.GetString("app.env"); env != "" {
		v.SetConfigName(service + "." + env)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrapf(err, "merge %s.%s config", service, env)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "unmarshal settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
