package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are
// mapped onto config keys. The first underscore after the prefix
// separates the section from the key, so DVR_STORAGE_ACCESS_KEY maps
// to storage.access_key.
const EnvPrefix = "DVR_"

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "dvr.yaml"

type Config struct {
	Verbose   bool            `koanf:"verbose"`
	HTTP      HTTP            `koanf:"http"`
	Capture   Capture         `koanf:"capture"`
	Transcode Transcode       `koanf:"transcode"`
	Storage   Storage         `koanf:"storage"`
	Upload    Upload          `koanf:"upload"`
	Shutdown  ShutdownSection `koanf:"shutdown"`
	Retention Retention       `koanf:"retention"`
}

type HTTP struct {
	Addr string `koanf:"addr"`
}

// Capture configures the stream-copy ffmpeg invocation.
type Capture struct {
	Binary            string        `koanf:"binary"`
	Dir               string        `koanf:"dir"`
	CDNHost           string        `koanf:"cdnhost"`
	StallTimeout      time.Duration `koanf:"stalltimeout"`
	ReconnectDelayMax time.Duration `koanf:"reconnectdelay"`
}

// Transcode configures the audio-only remux of a finished capture.
type Transcode struct {
	Binary  string `koanf:"binary"`
	Codec   string `koanf:"codec"`
	Bitrate string `koanf:"bitrate"`
}

// Storage holds object storage access. Endpoint, credentials and
// bucket have no working defaults on purpose: their absence fails
// startup, not the first upload.
type Storage struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
}

type Upload struct {
	Retries   int   `koanf:"retries"`
	QueueSize int   `koanf:"queuesize"`
	PartSize  int64 `koanf:"partsize"`
}

type ShutdownSection struct {
	DrainTimeout time.Duration `koanf:"draintimeout"`
}

// Retention controls the sweep of local artifacts left behind by
// failed pipelines. MaxAge zero disables the sweeper.
type Retention struct {
	MaxAge        time.Duration `koanf:"maxage"`
	SweepInterval time.Duration `koanf:"sweepinterval"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr: ":8080",
		},
		Capture: Capture{
			Binary:            "ffmpeg",
			Dir:               "vods",
			CDNHost:           "stream.vrcdn.live",
			StallTimeout:      30 * time.Second,
			ReconnectDelayMax: 2 * time.Second,
		},
		Transcode: Transcode{
			Binary:  "ffmpeg",
			Codec:   "libopus",
			Bitrate: "128k",
		},
		Storage: Storage{
			Region: "auto",
		},
		Upload: Upload{
			Retries:   3,
			QueueSize: 10,
			PartSize:  5 * 1024 * 1024,
		},
		Shutdown: ShutdownSection{
			DrainTimeout: 10 * time.Second,
		},
		Retention: Retention{
			SweepInterval: time.Hour,
		},
	}
}

// Load layers defaults, an optional YAML file and DVR_ environment
// variables, highest last.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || path != DefaultPath {
				return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Validate reports every missing required field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required (DVR_STORAGE_ENDPOINT)"))
	}
	if c.Storage.AccessKey == "" {
		errs = append(errs, errors.New("storage.access_key is required (DVR_STORAGE_ACCESS_KEY)"))
	}
	if c.Storage.SecretKey == "" {
		errs = append(errs, errors.New("storage.secret_key is required (DVR_STORAGE_SECRET_KEY)"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required (DVR_STORAGE_BUCKET)"))
	}
	if c.Upload.Retries < 1 {
		errs = append(errs, errors.New("upload.retries must be at least 1"))
	}
	if c.Upload.QueueSize < 1 {
		errs = append(errs, errors.New("upload.queuesize must be at least 1"))
	}
	if c.Shutdown.DrainTimeout <= 0 {
		errs = append(errs, errors.New("shutdown.draintimeout must be positive"))
	}
	return errors.Join(errs...)
}
