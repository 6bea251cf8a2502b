package options

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configures the session table. An empty Addr keeps sessions in memory.
type RedisOptions struct {
	Addr        string        `json:"addr" mapstructure:"addr"`
	Username    string        `json:"username" mapstructure:"username"`
	Password    string        `json:"password" mapstructure:"password"`
	Database    int           `json:"database" mapstructure:"database"`
	DialTimeout time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
}

func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
	}
}

func (o *RedisOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.Addr != "" {
		if err := ValidateAddress(o.Addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "redis.addr", o.Addr, "Address of the Redis session table. Empty keeps sessions in process memory.")
	fs.StringVar(&o.Username, "redis.username", o.Username, "Username for Redis ACL authentication.")
	fs.StringVar(&o.Password, "redis.password", o.Password, "Password for Redis authentication.")
	fs.IntVar(&o.Database, "redis.database", o.Database, "Redis logical database number.")
	fs.DurationVar(&o.DialTimeout, "redis.dial-timeout", o.DialTimeout, "Timeout for establishing a Redis connection.")
}

// NewClient builds a go-redis client, or returns nil when Addr is empty.
func (o *RedisOptions) NewClient() *redis.Client {
	if o.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:        o.Addr,
		Username:    o.Username,
		Password:    o.Password,
		DB:          o.Database,
		DialTimeout: o.DialTimeout,
	})
}
