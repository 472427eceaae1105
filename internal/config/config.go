package config // package config loads application configuration from environment variables

import (
	"encoding/base64"
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations,
// iteration bounds and costs.
type Config struct {
	Env                string // application environment (e.g. "dev", "prod")
	Port               string // HTTP port to listen on
	DBUser             string // database username
	DBPass             string // database password (optional)
	DBHost             string // database host address
	DBPort             string // database port number
	DBName             string // database name
	JWTSecret          string // secret used to verify admin bearer tokens
	MasterKey          []byte // at-rest sealing key; nil disables sealing
	ReplayWindowSec    int    // replay guard window in seconds
	SweepIntervalSec   int    // expired unique value sweep interval in seconds
	TokenIDIterations  int    // retry bound for token ID generation
	RecoveryIterations int    // retry bound for recovery code generation
	MaxFailedAttempts  int    // failed attempt budget for new credentials
	BcryptCost         int    // bcrypt cost for PUK hashing
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:                must("APP_ENV"),      // environment (dev/test/prod)
		Port:               must("APP_PORT"),     // port to bind the HTTP server
		DBUser:             must("DB_USER"),      // database user
		DBPass:             os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost:             must("DB_HOST"),      // database host
		DBPort:             must("DB_PORT"),      // database port
		DBName:             must("DB_NAME"),      // database name
		JWTSecret:          must("JWT_SECRET"),   // secret used for admin bearer tokens
		MasterKey:          optionalKey("MASTER_KEY_BASE64"),
		ReplayWindowSec:    mustInt("REPLAY_WINDOW_SEC"),    // replay window in seconds
		SweepIntervalSec:   mustInt("SWEEP_INTERVAL_SEC"),   // sweep cadence in seconds
		TokenIDIterations:  mustInt("TOKEN_ID_ITERATIONS"),  // token ID retry bound
		RecoveryIterations: mustInt("RECOVERY_ITERATIONS"),  // recovery code retry bound
		MaxFailedAttempts:  mustInt("MAX_FAILED_ATTEMPTS"),  // failed attempt budget
		BcryptCost:         mustInt("BCRYPT_COST"),          // bcrypt cost factor
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// optionalKey decodes an optional base64 key. Unset or empty means the
// feature backed by the key is disabled; a present but malformed value is
// a fatal configuration error.
func optionalKey(key string) []byte {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		log.Fatalf("invalid base64 for %s", key)
	}
	return b
}
