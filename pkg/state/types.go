package state

import "path/filepath"

type Paths struct {
	DB    string
	Store string
	State string
	Logs  string
	Tel   string
	Tmp   string
}

func PathsFor(dbPath string) Paths {
	statePath := filepath.Join(dbPath, "state")
	return Paths{
		DB:    dbPath,
		Store: filepath.Join(dbPath, "store"),

		State: statePath,
		Logs:  filepath.Join(statePath, "logs"),
		Tel:   filepath.Join(statePath, "telemetry"),
		Tmp:   filepath.Join(statePath, "tmp"),
	}
}

func StorePath(dbPath string) string { return PathsFor(dbPath).Store }
func TelPath(dbPath string) string   { return PathsFor(dbPath).Tel }
