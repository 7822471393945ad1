package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	if err := finalize(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("HTTPAddr: got %q, want %q", cfg.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.InitialCoins != DefaultInitialCoins {
		t.Errorf("InitialCoins: got %d, want %d", cfg.InitialCoins, DefaultInitialCoins)
	}
	if cfg.VoteWindow.Duration != 12*time.Hour {
		t.Errorf("VoteWindow: got %s", cfg.VoteWindow)
	}
	if cfg.Calendar.WeekStart != time.Sunday || cfg.Calendar.Location != time.UTC {
		t.Errorf("Calendar: got %+v", cfg.Calendar)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.toml")
	body := `
http_addr = ":9090"
sweep_interval = "1m"
week_start = "monday"
timezone = "Europe/Berlin"
initial_coins = 50
kafka_brokers = ["k1:9092"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STAKES_CONFIG", path)
	t.Setenv("STAKES_INITIAL_COINS", "75")
	t.Setenv("STAKES_KAFKA_BROKERS", "a:1, b:2")
	t.Setenv("DATABASE_URL", "postgres://localhost/stakes")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr: got %q", cfg.HTTPAddr)
	}
	if cfg.SweepInterval.Duration != time.Minute {
		t.Errorf("SweepInterval: got %s", cfg.SweepInterval)
	}
	if cfg.AggregateInterval.Duration != DefaultAggregateInterval {
		t.Errorf("AggregateInterval: got %s", cfg.AggregateInterval)
	}
	if cfg.InitialCoins != 75 {
		t.Errorf("InitialCoins: got %d, env should win", cfg.InitialCoins)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:2" {
		t.Errorf("KafkaBrokers: got %v", cfg.KafkaBrokers)
	}
	if cfg.DatabaseURL != "postgres://localhost/stakes" {
		t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
	}
	if cfg.Calendar.WeekStart != time.Monday || cfg.Calendar.Location.String() != "Europe/Berlin" {
		t.Errorf("Calendar: got %+v", cfg.Calendar)
	}
}

func TestLoadWithoutFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STAKES_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SweepInterval.Duration != DefaultSweepInterval {
		t.Errorf("SweepInterval: got %s", cfg.SweepInterval)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing explicit file", map[string]string{"STAKES_CONFIG": "nope.toml"}},
		{"bad duration", map[string]string{"STAKES_SWEEP_INTERVAL": "soon"}},
		{"bad weekday", map[string]string{"STAKES_WEEK_START": "someday"}},
		{"bad timezone", map[string]string{"STAKES_TIMEZONE": "Mars/Olympus"}},
		{"bad coins", map[string]string{"STAKES_INITIAL_COINS": "lots"}},
		{"negative grace", map[string]string{"STAKES_DEFAULT_GRACE_MINUTES": "-5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("STAKES_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadSpaces(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	body := `
[[spaces]]
id = "household"
min_stake = 5
grace_minutes = 30
group_vote_enabled = false
members = ["alice", "bob"]

[[spaces]]
id = "gym"
weekly_forgiveness_tokens = 0
vote_threshold_percent = 75
members = ["carol"]
`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STAKES_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Spaces) != 2 {
		t.Fatalf("Spaces: got %d", len(cfg.Spaces))
	}

	household := cfg.Spaces[0].Rules()
	if household.SpaceID != "household" || household.MinStake != 5 || household.GraceMinutes != 30 ||
		household.GroupVoteEnabled || household.WeeklyForgivenessTokens != DefaultForgivenessTokens ||
		household.VoteThresholdPercent != DefaultVoteThresholdPercent {
		t.Errorf("household rules: got %+v", household)
	}
	if len(cfg.Spaces[0].Members) != 2 || cfg.Spaces[0].Members[1] != "bob" {
		t.Errorf("household members: got %v", cfg.Spaces[0].Members)
	}

	gym := cfg.Spaces[1].Rules()
	if gym.MinStake != DefaultMinStake || gym.WeeklyForgivenessTokens != 0 || !gym.GroupVoteEnabled || gym.VoteThresholdPercent != 75 {
		t.Errorf("gym rules: got %+v", gym)
	}
}

func TestValidateSpaces(t *testing.T) {
	zero := int64(0)
	over := 101
	tests := []struct {
		name    string
		seeds   []SpaceSeed
		wantErr bool
	}{
		{"none", nil, false},
		{"defaults", []SpaceSeed{{ID: "a"}}, false},
		{"missing id", []SpaceSeed{{Members: []string{"alice"}}}, true},
		{"duplicate id", []SpaceSeed{{ID: "a"}, {ID: "a"}}, true},
		{"zero stake", []SpaceSeed{{ID: "a", MinStake: &zero}}, true},
		{"negative grace", []SpaceSeed{{ID: "a", GraceMinutes: -1}}, true},
		{"threshold over 100", []SpaceSeed{{ID: "a", VoteThresholdPercent: &over}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateSpaces(tt.seeds); (err != nil) != tt.wantErr {
				t.Fatalf("validateSpaces = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
