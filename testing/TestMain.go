package testing

import (
	"log/slog"
	"os"
	"sync"
	stdtesting "testing"
)

// envDefaults apply to every test binary that imports this package. Values
// already present in the environment win, except the test mode flag.
var envDefaults = map[string]string{
	"LOG_LEVEL": "warn",
}

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		for key, value := range envDefaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
		installDefaultLogger()
	})
}

// installDefaultLogger makes components built with a nil logger honour
// LOG_LEVEL. This package cannot import internal/app: app depends on the
// packages whose tests import this one.
func installDefaultLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
