package postgresql

// Common test constants shared across test files.
const (
	errNewWithPoolFailed    = "NewWithPool failed: %v"
	errOpenFailed           = "Open failed: %v"
	queryDropTableIfExists  = "DROP TABLE IF EXISTS "
	errSkipBenchmarkConnect = "skipping benchmark; could not connect to PostgreSQL: %v"
)
