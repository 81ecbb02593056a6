package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"myaccountapp/account-client/internal/retry"
)

const pingInterval = 2 * time.Second

func main() {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "TEST_POSTGRES_DSN or DATABASE_URL is required")
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_POSTGRES_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_POSTGRES_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	policy := retry.Policy{
		MaxAttempts: int(timeout/pingInterval) + 1,
		Delay:       pingInterval,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+pingInterval)
	defer cancel()

	err = policy.Do(ctx, retry.ClockSleeper{}, func(ctx context.Context, _ int) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingInterval)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready within %s: %v\n", timeout, err)
		os.Exit(1)
	}
	fmt.Println("postgres ready")
}
