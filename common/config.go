package common

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ReportTimeZone = "America/Guayaquil"

	DefaultSMTPHost = "smtp.office365.com"
	DefaultSMTPPort = "587"
)

// Variables de correo que se limpian antes de leer el .env
var EmailKeys = []string{"email_user", "email_password", "email_to", "email_to_2"}

var ErrConfigLoad = errors.New("config load failed")

type Config struct {
	EmailUser     string
	EmailPassword string
	EmailTo       string
	EmailTo2      string

	SMTPHost string
	SMTPPort string

	JSONPath string
	CSVPath  string

	ResetWindow    time.Duration
	NetworkTimeout time.Duration

	DatabaseURL        string
	ElasticsearchURL   string
	ElasticsearchIndex string
	RabbitMQURL        string
	ReportQueue        string

	Location *time.Location

	// EnvFile es el .env cargado; vacío si no se encontró ninguno
	EnvFile string
}

// LoadConfig busca el .env más cercano subiendo desde el directorio actual.
// El Config devuelto siempre es usable; el error solo indica que el .env no se
// pudo cargar y que los datos de correo pueden venir vacíos.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return LoadConfigFrom(wd)
}

func LoadConfigFrom(dir string) (*Config, error) {
	for _, key := range EmailKeys {
		os.Unsetenv(key)
	}

	var loadErr error
	envFile := findDotenv(dir)
	if envFile == "" {
		loadErr = fmt.Errorf("%w: no .env file found from %s", ErrConfigLoad, dir)
	} else if err := godotenv.Load(envFile); err != nil {
		loadErr = fmt.Errorf("%w: %s: %w", ErrConfigLoad, envFile, err)
		envFile = ""
	}

	cfg := &Config{
		EmailUser:     os.Getenv("email_user"),
		EmailPassword: os.Getenv("email_password"),
		EmailTo:       os.Getenv("email_to"),
		EmailTo2:      os.Getenv("email_to_2"),

		SMTPHost: getEnv("SMTP_HOST", DefaultSMTPHost),
		SMTPPort: getEnv("SMTP_PORT", DefaultSMTPPort),

		JSONPath: getEnv("JSON_PATH", "all_comments.json"),
		CSVPath:  getEnv("CSV_PATH", "all_comments.csv"),

		ResetWindow:    getEnvDuration("RESET_WINDOW", time.Minute),
		NetworkTimeout: getEnvDuration("NETWORK_TIMEOUT", 30*time.Second),

		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ElasticsearchURL:   os.Getenv("ELASTICSEARCH_URL"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "comentarios"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		ReportQueue:        getEnv("REPORT_QUEUE", "report_events"),

		Location: ReportLocation(),
		EnvFile:  envFile,
	}

	return cfg, loadErr
}

// Recipients devuelve los destinatarios configurados, sin vacíos
func (c *Config) Recipients() []string {
	var to []string
	for _, addr := range []string{c.EmailTo, c.EmailTo2} {
		if addr != "" {
			to = append(to, addr)
		}
	}
	return to
}

// SMTPAddr es host:puerto para el dial SMTP
func (c *Config) SMTPAddr() string {
	return net.JoinHostPort(c.SMTPHost, c.SMTPPort)
}

// ReportLocation devuelve la zona de Ecuador. Ecuador no tiene horario de
// verano, así que UTC-5 fijo es un respaldo exacto si falta tzdata.
func ReportLocation() *time.Location {
	loc, err := time.LoadLocation(ReportTimeZone)
	if err != nil {
		return time.FixedZone("ECT", -5*60*60)
	}
	return loc
}

func findDotenv(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
