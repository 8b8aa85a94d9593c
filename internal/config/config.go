package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by BRAIN_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("BRAIN_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// BrainStateFile is the fast-store JSON file holding the current
// generation. Defaults to "brain_state.json".
func BrainStateFile() string {
	p := os.Getenv("BRAIN_STATE_FILE")
	if p == "" {
		return "brain_state.json"
	}
	return p
}

// BrainDBFile is the SQLite archive of all generations.
// Defaults to "brain_history.db".
func BrainDBFile() string {
	p := os.Getenv("BRAIN_DB_FILE")
	if p == "" {
		return "brain_history.db"
	}
	return p
}

// PerformanceThreshold is the kill-gate threshold. Defaults to 0.5.
func PerformanceThreshold() float64 {
	v, err := strconv.ParseFloat(os.Getenv("PERFORMANCE_THRESHOLD"), 64)
	if err != nil || v <= 0 || v > 1 {
		return 0.5
	}
	return v
}

// ZombieGracePeriod is how many consecutive sub-threshold cycles a
// generation survives before being killed. Defaults to 5.
func ZombieGracePeriod() int {
	v, err := strconv.Atoi(os.Getenv("ZOMBIE_GRACE_PERIOD"))
	if err != nil || v <= 0 {
		return 5
	}
	return v
}

// MutationRate is the half-width of the rebirth weight perturbation.
// Defaults to 0.30.
func MutationRate() float64 {
	v, err := strconv.ParseFloat(os.Getenv("MUTATION_RATE"), 64)
	if err != nil || v <= 0 || v >= 1 {
		return 0.30
	}
	return v
}

// DecisionHistoryCap bounds the per-generation decision ring buffer.
// Defaults to 100.
func DecisionHistoryCap() int {
	v, err := strconv.Atoi(os.Getenv("DECISION_HISTORY_CAP"))
	if err != nil || v <= 0 {
		return 100
	}
	return v
}

// AvgPerformanceWindow is the trailing window used for the statistics
// average. Defaults to 20 generations.
func AvgPerformanceWindow() int {
	v, err := strconv.Atoi(os.Getenv("AVG_PERFORMANCE_WINDOW"))
	if err != nil || v <= 0 {
		return 20
	}
	return v
}

// AutosaveInterval is how often buffered decisions are flushed to the
// fast store. Defaults to 5 minutes.
func AutosaveInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("AUTOSAVE_INTERVAL"))
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
