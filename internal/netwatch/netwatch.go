// Package netwatch installs and inspects the router-side RADIUS health
// watchdog. The failover state machine itself runs on the router via
// /tool/netwatch scripts, so customers keep authenticating even when this
// control plane is unreachable; this package only installs, inspects, and
// removes that configuration.
package netwatch

import (
	"context"
	"strconv"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/nimda/radsync/internal/model"
	"github.com/nimda/radsync/internal/routeros"
	"github.com/nimda/radsync/pkg/utils"
)

// CommentTag marks probe rows owned by this application; lookups and
// removals key on the monitored host, the tag keeps the row identifiable to
// operators.
const CommentTag = "radius-health-monitor"

// upScript fires when RADIUS becomes reachable again: local fallback
// secrets are disabled and every session that did not authenticate through
// RADIUS is dropped, forcing re-authentication against the healthy server.
const upScript = "/ppp secret disable [find disabled=no];/ppp active remove [find radius=no];"

// downScript fires when RADIUS becomes unreachable: the local fallback
// secrets are enabled so customers keep authenticating against the router.
const downScript = "/ppp secret enable [find disabled=yes];"

// Config carries the probe parameters and the fallback RADIUS address used
// when a router has no NAS record of its own.
type Config struct {
	RadiusServer string
	Interval     string
	Timeout      string
}

// Status is the read-only view of a router's probe row.
type Status struct {
	Configured bool
	Host       string
	State      string // router-reported: up, down, unknown
	Since      string
	Interval   string
	Timeout    string
	UpScript   string
	DownScript string
}

// Configurator manages netwatch probes across routers.
type Configurator struct {
	runner routeros.Runner
	cfg    Config
}

// NewConfigurator builds a Configurator that opens sessions through runner.
func NewConfigurator(runner routeros.Runner, cfg Config) *Configurator {
	return &Configurator{runner: runner, cfg: cfg}
}

// resolveHost picks the RADIUS address to monitor: the router's NAS record
// wins, the global config is the fallback. Never the router's own address.
func (c *Configurator) resolveHost(router *model.Router) (string, error) {
	if router.NAS != nil && router.NAS.Server != "" {
		return router.NAS.Server, nil
	}
	if c.cfg.RadiusServer != "" {
		return c.cfg.RadiusServer, nil
	}
	return "", utils.NewValidationError("radius_server",
		"router "+router.Name+" has no NAS record and no global RADIUS server is configured")
}

// Configure installs the health probe for the router's RADIUS server. Any
// existing probe for the same host is removed first so exactly one probe
// per (router, host) pair ever exists.
func (c *Configurator) Configure(ctx context.Context, router *model.Router) error {
	host, err := c.resolveHost(router)
	if err != nil {
		return err
	}

	return c.runner.WithRouter(ctx, router, func(api routeros.API) error {
		existing, err := api.GetRows(routeros.MenuNetwatch, map[string]string{"host": host})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if err := api.RemoveRows(routeros.MenuNetwatch, existing); err != nil {
				return err
			}
		}

		probe := routeros.Row{
			"host":        host,
			"interval":    c.cfg.Interval,
			"timeout":     c.cfg.Timeout,
			"up-script":   upScript,
			"down-script": downScript,
			"comment":     CommentTag,
		}
		added, err := api.AddRows(routeros.MenuNetwatch, []routeros.Row{probe})
		if err != nil {
			return err
		}
		if !added.OK() {
			return added.Errors[0].Err
		}

		zlog.Info().
			Str("router", router.Name).
			Str("host", host).
			Str("interval", c.cfg.Interval).
			Int("replaced", len(existing)).
			Msg("Configured RADIUS health probe")
		return nil
	})
}

// Remove deletes the probe for the router's RADIUS server. Succeeds
// trivially when no probe exists.
func (c *Configurator) Remove(ctx context.Context, router *model.Router) error {
	host, err := c.resolveHost(router)
	if err != nil {
		return err
	}

	return c.runner.WithRouter(ctx, router, func(api routeros.API) error {
		rows, err := api.GetRows(routeros.MenuNetwatch, map[string]string{"host": host})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := api.RemoveRows(routeros.MenuNetwatch, rows); err != nil {
			return err
		}
		zlog.Info().
			Str("router", router.Name).
			Str("host", host).
			Msg("Removed RADIUS health probe")
		return nil
	})
}

// GetStatus reads the probe row without interpreting or acting on it.
func (c *Configurator) GetStatus(ctx context.Context, router *model.Router) (Status, error) {
	host, err := c.resolveHost(router)
	if err != nil {
		return Status{}, err
	}

	var status Status
	err = c.runner.WithRouter(ctx, router, func(api routeros.API) error {
		rows, err := api.GetRows(routeros.MenuNetwatch, map[string]string{"host": host})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			status = Status{Configured: false, Host: host}
			return nil
		}
		row := rows[0]
		status = Status{
			Configured: true,
			Host:       host,
			State:      row["status"],
			Since:      row["since"],
			Interval:   row["interval"],
			Timeout:    row["timeout"],
			UpScript:   row["up-script"],
			DownScript: row["down-script"],
		}
		return nil
	})
	return status, err
}

// RadiusView aggregates the router's RADIUS-related state for operators.
type RadiusView struct {
	UseRadius     bool
	RadiusServers []string
	Probe         Status
}

// RadiusStatus reads /radius, /ppp/aaa, and the probe row in one session.
func (c *Configurator) RadiusStatus(ctx context.Context, router *model.Router) (RadiusView, error) {
	host, err := c.resolveHost(router)
	if err != nil {
		return RadiusView{}, err
	}

	var view RadiusView
	err = c.runner.WithRouter(ctx, router, func(api routeros.API) error {
		aaa, err := api.Command("/ppp/aaa/print", nil)
		if err != nil {
			return err
		}
		if len(aaa) > 0 {
			view.UseRadius = aaa[0]["use-radius"] == "true" || aaa[0]["use-radius"] == "yes"
		}

		servers, err := api.GetRows(routeros.MenuRadius, nil)
		if err != nil {
			return err
		}
		for _, row := range servers {
			view.RadiusServers = append(view.RadiusServers, row["address"])
		}

		probes, err := api.GetRows(routeros.MenuNetwatch, map[string]string{"host": host})
		if err != nil {
			return err
		}
		view.Probe = Status{Configured: false, Host: host}
		if len(probes) > 0 {
			view.Probe = Status{
				Configured: true,
				Host:       host,
				State:      probes[0]["status"],
				Since:      probes[0]["since"],
				Interval:   probes[0]["interval"],
				Timeout:    probes[0]["timeout"],
			}
		}
		return nil
	})
	return view, err
}

// SwitchToRadius manually forces RADIUS-authoritative mode, the same end
// state the up-script reaches on its own.
func (c *Configurator) SwitchToRadius(ctx context.Context, router *model.Router) error {
	return c.switchAAA(ctx, router, true)
}

// SwitchToLocal manually forces local-secret mode, e.g. ahead of planned
// RADIUS maintenance.
func (c *Configurator) SwitchToLocal(ctx context.Context, router *model.Router) error {
	return c.switchAAA(ctx, router, false)
}

func (c *Configurator) switchAAA(ctx context.Context, router *model.Router, useRadius bool) error {
	value := "no"
	if useRadius {
		value = "yes"
	}
	return c.runner.WithRouter(ctx, router, func(api routeros.API) error {
		if _, err := api.Command("/ppp/aaa/set", map[string]string{"use-radius": value}); err != nil {
			return err
		}
		zlog.Info().
			Str("router", router.Name).
			Str("use-radius", value).
			Msg("Switched PPP AAA mode")
		return nil
	})
}

// TestRadius pings the RADIUS server from the router itself, which is the
// path that matters for failover. Reachable when any of the probes answer.
func (c *Configurator) TestRadius(ctx context.Context, router *model.Router) (bool, error) {
	host, err := c.resolveHost(router)
	if err != nil {
		return false, err
	}

	var reachable bool
	err = c.runner.WithRouter(ctx, router, func(api routeros.API) error {
		rows, err := api.Command("/ping", map[string]string{"address": host, "count": "3"})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if received, err := strconv.Atoi(row["received"]); err == nil && received > 0 {
				reachable = true
			}
		}
		return nil
	})
	return reachable, err
}

// LogEntry is one router log line.
type LogEntry struct {
	Time    string
	Topics  string
	Message string
}

// FailoverLog returns the most recent netwatch-related log entries, newest
// last, capped at limit.
func (c *Configurator) FailoverLog(ctx context.Context, router *model.Router, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := c.runner.WithRouter(ctx, router, func(api routeros.API) error {
		rows, err := api.Command("/log/print", nil)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !strings.Contains(row["topics"], "netwatch") &&
				!strings.Contains(row["message"], "netwatch") {
				continue
			}
			entries = append(entries, LogEntry{
				Time:    row["time"],
				Topics:  row["topics"],
				Message: row["message"],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
