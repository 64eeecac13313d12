package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Per-service breaker tuning, overridable through CB_* environment
// variables so operators can loosen thresholds without a rebuild.

// GetLLMConfig returns the generation backend breaker configuration.
// Generation calls are slow and expensive, so the thresholds are low
// and the probe window long.
func GetLLMConfig() Config {
	return Config{
		MaxRequests:      getEnvUint32("CB_LLM_MAX_REQUESTS", 2),
		Interval:         getEnvDuration("CB_LLM_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_LLM_TIMEOUT", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_LLM_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_LLM_SUCCESS_THRESHOLD", 1),
	}
}

// GetEmbeddingsConfig returns the embeddings backend breaker configuration.
func GetEmbeddingsConfig() Config {
	return Config{
		MaxRequests:      getEnvUint32("CB_EMBEDDINGS_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_EMBEDDINGS_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_EMBEDDINGS_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_EMBEDDINGS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_EMBEDDINGS_SUCCESS_THRESHOLD", 2),
	}
}

// GetVectorDBConfig returns the vector store breaker configuration.
func GetVectorDBConfig() Config {
	return Config{
		MaxRequests:      getEnvUint32("CB_VECTORDB_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_VECTORDB_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_VECTORDB_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_VECTORDB_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_VECTORDB_SUCCESS_THRESHOLD", 2),
	}
}

// GetRedisConfig returns the Redis cache breaker configuration.
func GetRedisConfig() Config {
	return Config{
		MaxRequests:      getEnvUint32("CB_REDIS_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_REDIS_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_REDIS_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// GetDatabaseConfig returns the run archive database breaker configuration.
func GetDatabaseConfig() Config {
	return Config{
		MaxRequests:      getEnvUint32("CB_DB_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_DB_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_DB_TIMEOUT", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_DB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_DB_SUCCESS_THRESHOLD", 2),
	}
}

// ConfigForService maps a service name to its breaker tuning, falling
// back to DefaultConfig for unknown services.
func ConfigForService(service string) Config {
	switch service {
	case "llm":
		return GetLLMConfig()
	case "embeddings":
		return GetEmbeddingsConfig()
	case "vectordb", "qdrant":
		return GetVectorDBConfig()
	case "redis":
		return GetRedisConfig()
	case "database", "postgres", "sqlite":
		return GetDatabaseConfig()
	default:
		return DefaultConfig()
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
