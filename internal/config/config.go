package config

import "github.com/spf13/viper"

// Config carries everything the service needs from the environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Detection DetectionConfig
	Auth      AuthConfig
	S3        S3Config
	Upload    UploadConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout int
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr string
}

// DetectionConfig points at the external tree-crown area service.
type DetectionConfig struct {
	ServiceURL string
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
}

type UploadConfig struct {
	MaxUploadSize int64
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*Config, error) {
	viper.SetDefault("SERVER_ADDR", ":8080")
	viper.SetDefault("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 15)
	viper.SetDefault("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=ecosap port=5432 sslmode=disable")
	viper.SetDefault("REDIS_ADDR", "redis:6379")
	viper.SetDefault("AREA_SERVICE_URL", "http://127.0.0.1:5000/area")
	viper.SetDefault("JWT_SECRET", "dev-secret")
	viper.SetDefault("JWT_AUDIENCE", "")
	viper.SetDefault("S3_ENDPOINT", "localhost:9000")
	viper.SetDefault("S3_ACCESS_KEY_ID", "minioadmin")
	viper.SetDefault("S3_SECRET_ACCESS_KEY", "minioadmin")
	viper.SetDefault("S3_USE_SSL", false)
	viper.SetDefault("S3_BUCKET_NAME", "saplings")
	viper.SetDefault("S3_REGION", "us-east-1")
	viper.SetDefault("MAX_UPLOAD_SIZE", 10*1024*1024)

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            viper.GetString("SERVER_ADDR"),
			ShutdownTimeout: viper.GetInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS"),
		},
		Database: DatabaseConfig{
			DSN: viper.GetString("DATABASE_DSN"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
		},
		Detection: DetectionConfig{
			ServiceURL: viper.GetString("AREA_SERVICE_URL"),
		},
		Auth: AuthConfig{
			JWTSecret:   viper.GetString("JWT_SECRET"),
			JWTAudience: viper.GetString("JWT_AUDIENCE"),
		},
		S3: S3Config{
			Endpoint:        viper.GetString("S3_ENDPOINT"),
			AccessKeyID:     viper.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: viper.GetString("S3_SECRET_ACCESS_KEY"),
			UseSSL:          viper.GetBool("S3_USE_SSL"),
			BucketName:      viper.GetString("S3_BUCKET_NAME"),
			Region:          viper.GetString("S3_REGION"),
		},
		Upload: UploadConfig{
			MaxUploadSize: viper.GetInt64("MAX_UPLOAD_SIZE"),
		},
	}

	return cfg, nil
}
