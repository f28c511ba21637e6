package version

import (
	"fmt"
	"runtime"
)

// Значения подставляются при сборке через -ldflags "-X".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build: сведения о сборке для логов, health и user-agent.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
	}
}

func GetVersion() string { return version }
func GetCommit() string  { return commit }
func GetDate() string    { return date }

// Fields возвращает поля для стартовой записи лога.
func (b Build) Fields() map[string]any {
	return map[string]any{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
		"go":         b.GoVersion,
	}
}

// UserAgent формирует заголовок User-Agent для исходящих запросов бинаря app.
func UserAgent(app string) string {
	return fmt.Sprintf("%s/%s (%s)", app, version, shortCommit())
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

func shortCommit() string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
