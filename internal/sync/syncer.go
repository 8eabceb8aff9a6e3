// Package sync keeps router-local PPP secrets aligned with billing customer
// records. It is the fallback path: on routers where RADIUS is the primary
// authenticator every operation here is a deliberate no-op.
package sync

import (
	"context"
	"fmt"

	zlog "github.com/rs/zerolog/log"

	"github.com/nimda/radsync/internal/model"
	"github.com/nimda/radsync/internal/routeros"
)

// Action describes what a sync did for one customer.
type Action string

const (
	// ActionSkipped means the router authenticates via RADIUS, so local
	// secrets are not managed here. No router I/O happened.
	ActionSkipped Action = "skipped"
	// ActionNoop means the secret already matched the customer record.
	ActionNoop    Action = "noop"
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionRemoved Action = "removed"
	// ActionDisabled is a soft removal: the secret stays but cannot
	// authenticate.
	ActionDisabled Action = "disabled"
)

// Result is the outcome of a single-customer sync.
type Result struct {
	Username string
	Action   Action
	Message  string
}

// CustomerError pairs a failed customer with its error in a bulk report.
type CustomerError struct {
	Username string
	Err      error
}

// maxReportErrors caps the error list carried in a bulk Report. Counts are
// always exact even when the list is truncated.
const maxReportErrors = 10

// Report aggregates a bulk sync run.
type Report struct {
	Total   int
	Synced  int
	Skipped int
	Failed  int
	Errors  []CustomerError
}

func (r *Report) recordError(username string, err error) {
	r.Failed++
	if len(r.Errors) < maxReportErrors {
		r.Errors = append(r.Errors, CustomerError{Username: username, Err: err})
	}
}

// Syncer reconciles billing customers onto router-local PPP secrets.
type Syncer struct {
	runner       routeros.Runner
	localAddress string // default ppp local-address for managed profiles
}

// NewSyncer builds a Syncer that opens sessions through runner.
func NewSyncer(runner routeros.Runner, localAddress string) *Syncer {
	return &Syncer{runner: runner, localAddress: localAddress}
}

// SyncCustomer ensures the router holds a secret reflecting the customer's
// current username, password, profile, and active state.
func (s *Syncer) SyncCustomer(ctx context.Context, customer *model.Customer, router *model.Router) (Result, error) {
	if router.PrimaryAuth == model.AuthRadius {
		return skippedResult(customer), nil
	}

	var result Result
	err := s.runner.WithRouter(ctx, router, func(api routeros.API) error {
		var syncErr error
		result, syncErr = s.syncOne(api, customer, router)
		return syncErr
	})
	if err != nil {
		return Result{Username: customer.Username}, err
	}
	return result, nil
}

// SyncAll reconciles every given customer over a single session. Per-customer
// failures are counted and the run continues; a connection-level failure
// aborts the batch since nothing further can succeed.
func (s *Syncer) SyncAll(ctx context.Context, customers []*model.Customer, router *model.Router) (Report, error) {
	report := Report{Total: len(customers)}

	if router.PrimaryAuth == model.AuthRadius {
		report.Skipped = report.Total
		zlog.Info().
			Str("router", router.Name).
			Int("customers", report.Total).
			Msg("Router is RADIUS-primary, local secret sync not needed")
		return report, nil
	}

	err := s.runner.WithRouter(ctx, router, func(api routeros.API) error {
		for _, customer := range customers {
			if _, err := s.syncOne(api, customer, router); err != nil {
				report.recordError(customer.Username, err)
				if routeros.IsConnectionError(err) {
					return err
				}
				zlog.Error().
					Str("router", router.Name).
					Str("customer", customer.Username).
					Err(err).
					Msg("Failed to sync customer")
				continue
			}
			report.Synced++
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	zlog.Info().
		Str("router", router.Name).
		Int("total", report.Total).
		Int("synced", report.Synced).
		Int("failed", report.Failed).
		Msg("Bulk secret sync finished")
	return report, nil
}

// Remove deprovisions a churned customer. With purge=false the secret is
// soft-disabled instead of removed. Absent secrets are success.
func (s *Syncer) Remove(ctx context.Context, customer *model.Customer, router *model.Router, purge bool) (Result, error) {
	if router.PrimaryAuth == model.AuthRadius {
		return skippedResult(customer), nil
	}

	var result Result
	err := s.runner.WithRouter(ctx, router, func(api routeros.API) error {
		rows, err := api.GetRows(routeros.MenuPPPSecret, map[string]string{"name": customer.Username})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			result = Result{Username: customer.Username, Action: ActionNoop, Message: "secret already absent"}
			return nil
		}

		if purge {
			if err := api.RemoveRows(routeros.MenuPPPSecret, rows); err != nil {
				return err
			}
			result = Result{Username: customer.Username, Action: ActionRemoved}
		} else {
			for _, row := range rows {
				if row["disabled"] == "yes" {
					continue
				}
				if err := api.EditRow(routeros.MenuPPPSecret, row, map[string]string{"disabled": "yes"}); err != nil {
					return err
				}
			}
			result = Result{Username: customer.Username, Action: ActionDisabled}
		}

		zlog.Info().
			Str("router", router.Name).
			Str("customer", customer.Username).
			Str("action", string(result.Action)).
			Msg("Deprovisioned customer secret")
		return nil
	})
	if err != nil {
		return Result{Username: customer.Username}, err
	}
	return result, nil
}

// syncOne runs steps the guard has already cleared: build the desired spec,
// ensure its profile exists, then diff against the router's current row.
func (s *Syncer) syncOne(api routeros.API, customer *model.Customer, router *model.Router) (Result, error) {
	spec, err := BuildSecretSpec(customer, s.localAddress)
	if err != nil {
		return Result{}, err
	}

	if err := s.ensureProfile(api, customer.Package); err != nil {
		return Result{}, err
	}

	rows, err := api.GetRows(routeros.MenuPPPSecret, map[string]string{"name": customer.Username})
	if err != nil {
		return Result{}, err
	}

	if len(rows) == 0 {
		added, err := api.AddRows(routeros.MenuPPPSecret, []routeros.Row{spec})
		if err != nil {
			return Result{}, err
		}
		if !added.OK() {
			return Result{}, added.Errors[0].Err
		}
		zlog.Info().
			Str("router", router.Name).
			Str("customer", customer.Username).
			Msg("Created PPP secret")
		return Result{Username: customer.Username, Action: ActionCreated}, nil
	}

	changes := diffSecret(rows[0], spec)
	if len(changes) == 0 {
		return Result{Username: customer.Username, Action: ActionNoop}, nil
	}
	if err := api.EditRow(routeros.MenuPPPSecret, rows[0], changes); err != nil {
		return Result{}, err
	}
	zlog.Info().
		Str("router", router.Name).
		Str("customer", customer.Username).
		Int("fields", len(changes)).
		Msg("Updated PPP secret")
	return Result{Username: customer.Username, Action: ActionUpdated}, nil
}

// ensureProfile creates the customer's ppp/profile on the router when it is
// missing, so secret creation never traps on an unknown profile.
func (s *Syncer) ensureProfile(api routeros.API, pkg model.Package) error {
	rows, err := api.GetRows(routeros.MenuPPPProfile, map[string]string{"name": pkg.ProfileName})
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}

	profile := routeros.Row{"name": pkg.ProfileName}
	if pkg.RateLimit != "" {
		profile["rate-limit"] = pkg.RateLimit
	}
	if s.localAddress != "" {
		profile["local-address"] = s.localAddress
	}

	added, err := api.AddRows(routeros.MenuPPPProfile, []routeros.Row{profile})
	if err != nil {
		return err
	}
	if !added.OK() {
		err := added.Errors[0].Err
		if routeros.IsAlreadyExistsError(err) {
			return nil
		}
		return fmt.Errorf("create profile %q: %w", pkg.ProfileName, err)
	}
	return nil
}

func skippedResult(customer *model.Customer) Result {
	return Result{
		Username: customer.Username,
		Action:   ActionSkipped,
		Message:  "router authenticates via RADIUS, local secrets not managed",
	}
}
