package banner

import (
	"fmt"
	"io"

	"convodb/pkg/config"
)

const banner = `
  ___ ___  _ ____   _____  ___  ___
 / __/ _ \| '_ \ \ / / _ \|   \| _ )
| (_| (_) | | | \ V / (_) | |) | _ \
 \___\___/|_| |_|\_/ \___/|___/|___/
`

// Print writes the startup banner and a short readiness checklist.
func Print(w io.Writer, eff config.EffectiveConfigResult, version string) {
	src := eff.Source
	if src == "" {
		src = "flags"
	}
	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", eff.Addr)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", src)

	cfg := eff.Config
	if cfg == nil {
		return
	}
	fmt.Fprintln(w, "\n== Production? =================================================")
	check(w, "Backend API keys", len(cfg.Server.APIKeys.Backend) > 0, fmt.Sprintf("%d", len(cfg.Server.APIKeys.Backend)))
	check(w, "Frontend API keys", len(cfg.Server.APIKeys.Frontend) > 0, fmt.Sprintf("%d", len(cfg.Server.APIKeys.Frontend)))
	check(w, "Admin API keys", len(cfg.Server.APIKeys.Admin) > 0, fmt.Sprintf("%d", len(cfg.Server.APIKeys.Admin)))
	check(w, "TLS", cfg.Server.TLS.CertFile != "", cfg.Server.TLS.CertFile)
	check(w, "Session secret", cfg.Session.Secret != "", "set")
	check(w, "Blob store", cfg.Blob.BaseURL != "", cfg.Blob.BaseURL)
	check(w, "Durable commits", cfg.Store.Sync, "fsync on commit")
	fmt.Fprintln(w, "================================================================")
}

func check(w io.Writer, name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(w, "- %s: OK (%s)\n", name, detail)
		return
	}
	fmt.Fprintf(w, "- %s: MISSING\n", name)
}
