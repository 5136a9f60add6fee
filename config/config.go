// Package config loads service and allocation settings from a TOML file,
// a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"seating/solver"
)

type Config struct {
	Listen       string   `toml:"listen"`
	PGConn       string   `toml:"pg_conn"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Admins       []string `toml:"admins"`

	Redis      Redis      `toml:"redis"`
	AMQPURL    string     `toml:"amqp_url"`
	Allocation Allocation `toml:"allocation"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	// TTLSeconds is how long a cached seating plan stays valid.
	TTLSeconds int `toml:"ttl_seconds"`
}

type Allocation struct {
	Strict           bool   `toml:"strict"`
	Scan             string `toml:"scan"`
	RelaxSingleGroup bool   `toml:"relax_single_group"`
	SkipOptimize     bool   `toml:"skip_optimize"`
}

func Default() Config {
	return Config{
		Listen: ":8080",
		Redis:  Redis{TTLSeconds: 3600},
		Allocation: Allocation{
			Scan:             "column",
			RelaxSingleGroup: true,
		},
	}
}

// Load reads path (skipped when empty), then .env from the working directory
// when present, then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("reading .env: %w", err)
	}

	setString(&cfg.Listen, "LISTEN_ADDR")
	setString(&cfg.PGConn, "PGCONN")
	setString(&cfg.ClientID, "CLIENT_ID")
	setString(&cfg.ClientSecret, "CLIENT_SECRET")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.AMQPURL, "AMQP_URL")
	setString(&cfg.Allocation.Scan, "SEAT_SCAN")
	if v := os.Getenv("ADMINS"); v != "" {
		cfg.Admins = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.Admins = append(cfg.Admins, a)
			}
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REDIS_DB %q", v)
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv("SEAT_STRICT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SEAT_STRICT %q", v)
		}
		cfg.Allocation.Strict = b
	}
	return cfg, nil
}

// Validate checks the settings the HTTP service cannot start without.
func (c Config) Validate() error {
	var missing []string
	if c.PGConn == "" {
		missing = append(missing, "PGCONN")
	}
	if c.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if len(c.Admins) == 0 {
		missing = append(missing, "ADMINS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if _, err := solver.ParseScanOrder(c.Allocation.Scan); err != nil {
		return err
	}
	return nil
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// SolverOptions turns the allocation section into solver options. Logger and
// Metrics are left for the caller.
func (a Allocation) SolverOptions() (solver.Options, error) {
	scan, err := solver.ParseScanOrder(a.Scan)
	if err != nil {
		return solver.Options{}, err
	}
	return solver.Options{
		Scan:             scan,
		Strict:           a.Strict,
		RelaxSingleGroup: a.RelaxSingleGroup,
		SkipOptimize:     a.SkipOptimize,
	}, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
