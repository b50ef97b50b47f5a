package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the application configuration. It is built once at startup and
// treated as read-only afterwards; components receive the sections they need
// at construction time.
type Config struct {
	Agent        AgentConfig        `json:"agent"`
	Backend      BackendConfig      `json:"backend"`
	Subscription SubscriptionConfig `json:"subscription"`
	Tracking     TrackingConfig     `json:"tracking"`
	Movement     MovementConfig     `json:"movement"`
	Routing      RoutingConfig      `json:"routing"`
	Server       ServerConfig       `json:"server"`
	Auth         AuthConfig         `json:"auth"`
	Kafka        KafkaConfig        `json:"kafka"`
	Redis        RedisConfig        `json:"redis"`
	Database     DatabaseConfig     `json:"database"`
	Logger       LoggerConfig       `json:"logger"`
}

// AgentConfig configures the shipper agent itself.
type AgentConfig struct {
	Phone          string  `json:"phone"`
	StartLatitude  float64 `json:"start_latitude"`
	StartLongitude float64 `json:"start_longitude"`
	AcceptWithinKm float64 `json:"accept_within_km"`
}

// BackendConfig configures the HTTP client for the dispatch backend.
type BackendConfig struct {
	BaseURL        string `json:"base_url"`
	RequestTimeout int    `json:"request_timeout"` // seconds
}

// SubscriptionConfig configures the live order feed.
type SubscriptionConfig struct {
	URL           string  `json:"url"`
	MaxDistanceKm float64 `json:"max_distance_km"`
}

// TrackingConfig configures periodic location reporting.
type TrackingConfig struct {
	Interval int `json:"interval"` // seconds
}

// MovementConfig configures the simulated position driver.
type MovementConfig struct {
	StepMeters float64 `json:"step_meters"`
	TickMillis int     `json:"tick_millis"`
}

// RoutingConfig configures the external directions service.
type RoutingConfig struct {
	URL         string `json:"url"`
	AccessToken string `json:"access_token"`
}

// ServerConfig configures the dispatch HTTP server.
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// AuthConfig configures token issuing and OTP verification.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	OTPCode   string `json:"otp_code"`  // fixed code accepted in demo mode, empty disables
	TokenTTL  int    `json:"token_ttl"` // hours
}

// KafkaConfig configures the Kafka producer and consumer.
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics lists the Kafka topics used by the dispatcher.
type Topics struct {
	Orders    string `json:"orders"`
	Shippers  string `json:"shippers"`
	Locations string `json:"locations"`
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// LoggerConfig configures logging.
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// Load reads the configuration from environment variables. A .env file is
// honoured when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Agent: AgentConfig{
			Phone:          getEnv("SHIPPER_PHONE", "+84900000001"),
			StartLatitude:  getEnvAsFloat("SHIPPER_START_LAT", 10.7285),
			StartLongitude: getEnvAsFloat("SHIPPER_START_LON", 106.7244),
			AcceptWithinKm: getEnvAsFloat("SHIPPER_ACCEPT_WITHIN_KM", 3.0),
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_URL", "http://localhost:8080"),
			RequestTimeout: getEnvAsInt("BACKEND_REQUEST_TIMEOUT", 10),
		},
		Subscription: SubscriptionConfig{
			URL:           getEnv("FEED_URL", "ws://localhost:8080/shippers/feed"),
			MaxDistanceKm: getEnvAsFloat("FEED_MAX_DISTANCE_KM", 5.0),
		},
		Tracking: TrackingConfig{
			Interval: getEnvAsInt("TRACKING_INTERVAL", 10),
		},
		Movement: MovementConfig{
			StepMeters: getEnvAsFloat("MOVEMENT_STEP_METERS", 250),
			TickMillis: getEnvAsInt("MOVEMENT_TICK_MILLIS", 800),
		},
		Routing: RoutingConfig{
			URL:         getEnv("ROUTING_URL", "https://api.mapbox.com/directions/v5/mapbox/driving"),
			AccessToken: getEnv("ROUTING_ACCESS_TOKEN", ""),
		},
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "shipper-secret"),
			OTPCode:   getEnv("DEMO_OTP_CODE", "000000"),
			TokenTTL:  getEnvAsInt("TOKEN_TTL_HOURS", 24),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "dispatch-service"),
			Topics: Topics{
				Orders:    getEnv("KAFKA_TOPIC_ORDERS", "orders"),
				Shippers:  getEnv("KAFKA_TOPIC_SHIPPERS", "shippers"),
				Locations: getEnv("KAFKA_TOPIC_LOCATIONS", "locations"),
			},
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "dispatch_user"),
			Password: getEnv("DB_PASSWORD", "dispatch_pass"),
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
			File:   getEnv("LOG_FILE", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
