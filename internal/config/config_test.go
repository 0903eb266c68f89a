package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/scheduler")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.AppEnv != "development" {
		t.Fatalf("want default app env, got %q", c.AppEnv)
	}
	if c.MaxThreads != 10 {
		t.Fatalf("want default max threads 10, got %d", c.MaxThreads)
	}
	if c.LeaseTimeoutSeconds != 240 {
		t.Fatalf("want default lease timeout 240, got %d", c.LeaseTimeoutSeconds)
	}
	if c.ShardCount != 1 {
		t.Fatalf("want default shard count 1, got %d", c.ShardCount)
	}
}

func TestLoadFailsWithoutRequiredVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when required vars are missing")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/scheduler")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("MAX_THREADS", "25")
	t.Setenv("SHARD_COUNT", "8")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxThreads != 25 {
		t.Fatalf("want overridden max threads 25, got %d", c.MaxThreads)
	}
	if c.ShardCount != 8 {
		t.Fatalf("want overridden shard count 8, got %d", c.ShardCount)
	}
}
