package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"circulation/internal/config"
	"circulation/internal/storage/ch"
	"circulation/migrations"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using existing environment variables")
	}

	// Get command from arguments (default to "up")
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	driver := getEnv("STORAGE_DRIVER", config.DriverClickHouse)

	// create only writes a file into the source tree
	if command == "create" {
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate create <migration_name>")
		}
		migrationName := os.Args[2]
		migrationsDir := "./migrations/" + driver
		if err := goose.Create(nil, migrationsDir, migrationName, "sql"); err != nil {
			log.Fatalf("Failed to create migration: %v", err)
		}
		log.Printf("Created migration: %s in %s", migrationName, migrationsDir)
		return
	}

	db, err := openDB(driver)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test connection
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Printf("Connected to %s successfully", driver)

	provider, err := migrations.NewProvider(driver, db)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	// Run goose command
	log.Printf("Running migrations: %s", command)
	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		for _, r := range results {
			log.Println(r)
		}
		log.Println("Migrations completed successfully")
	case "down":
		result, err := provider.Down(ctx)
		if err != nil {
			log.Fatalf("Failed to rollback migration: %v", err)
		}
		log.Println(result)
		log.Println("Rollback completed successfully")
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
		for _, s := range statuses {
			log.Printf("%-8s %s", s.State, s.Source.Path)
		}
	case "version":
		version, err := provider.GetDBVersion(ctx)
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		log.Printf("Current migration version: %d", version)
	default:
		log.Fatalf("Unknown command: %s. Available commands: up, down, status, version, create", command)
	}
}

// openDB opens a database/sql handle for the selected storage driver
func openDB(driver string) (*sql.DB, error) {
	switch driver {
	case config.DriverPostgres:
		return sql.Open("pgx", os.Getenv("POSTGRES_DSN"))
	default:
		port, err := strconv.Atoi(getEnv("CLICKHOUSE_PORT", "9000"))
		if err != nil {
			return nil, err
		}
		opts := ch.Options(
			getEnv("CLICKHOUSE_HOST", "localhost"),
			port,
			getEnv("CLICKHOUSE_DATABASE", "default"),
			getEnv("CLICKHOUSE_USER", "default"),
			getEnv("CLICKHOUSE_PASSWORD", ""),
			getEnv("CLICKHOUSE_USE_TLS", "false") == "true",
		)
		return clickhouse.OpenDB(opts), nil
	}
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
