// Package importer pulls existing router-side configuration (profiles,
// secrets, IP pools) into the billing domain, so previously router-managed
// customers become billing-managed.
package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/nimda/radsync/internal/model"
	"github.com/nimda/radsync/internal/routeros"
	"github.com/nimda/radsync/internal/store"
	"github.com/nimda/radsync/pkg/duallog"
	"github.com/nimda/radsync/pkg/utils"
)

// progressFlushEvery is how many secrets are processed between progress
// writes during a bulk import.
const progressFlushEvery = 10

// maxReportErrors bounds the error list in a Report; counts stay exact.
const maxReportErrors = 10

// Report is the outcome of one import operation.
type Report struct {
	Imported int
	Skipped  int
	Failed   int
	Errors   []string
}

func (r *Report) recordError(context string, err error) {
	r.Failed++
	if len(r.Errors) < maxReportErrors {
		r.Errors = append(r.Errors, context+": "+err.Error())
	}
}

// Invoicer generates an initial bill for a freshly imported customer. The
// billing implementation belongs to the caller.
type Invoicer interface {
	GenerateInitialBill(ctx context.Context, customer *model.Customer) error
}

// SecretOptions tunes ImportSecrets.
type SecretOptions struct {
	// FilterDisabled excludes disabled secrets from the import.
	FilterDisabled bool
	// GenerateBills runs the Invoicer for each imported active customer.
	GenerateBills bool
}

// PoolSpec declares one pool to import: a name and its range expression
// (see ExpandRange for accepted forms).
type PoolSpec struct {
	Name  string
	Range string
}

// Importer runs import operations against one router and the store.
type Importer struct {
	runner    routeros.Runner
	customers store.CustomerStore
	profiles  store.ProfileStore
	pools     store.PoolStore
	imports   store.ImportStore
	invoicer  Invoicer
}

// New builds an Importer. invoicer may be nil when no billing hook is
// wanted.
func New(runner routeros.Runner, customers store.CustomerStore, profiles store.ProfileStore,
	pools store.PoolStore, imports store.ImportStore, invoicer Invoicer) *Importer {
	return &Importer{
		runner:    runner,
		customers: customers,
		profiles:  profiles,
		pools:     pools,
		imports:   imports,
		invoicer:  invoicer,
	}
}

// ImportIPPools expands each declared range into individual addresses and
// persists them. Addresses already allocated elsewhere are skipped, not
// errors.
func (im *Importer) ImportIPPools(ctx context.Context, specs []PoolSpec) (Report, error) {
	var report Report
	for _, spec := range specs {
		addrs, err := ExpandRange(spec.Range)
		if err != nil {
			report.recordError(spec.Name, err)
			continue
		}

		pool := &model.IPPool{Name: spec.Name, StartIP: addrs[0], EndIP: addrs[len(addrs)-1]}
		if _, err := im.pools.CreatePool(ctx, pool); err != nil {
			report.recordError(spec.Name, err)
			continue
		}

		for _, addr := range addrs {
			taken, err := im.pools.AllocationExists(ctx, addr)
			if err != nil {
				return report, err
			}
			if taken {
				report.Skipped++
				continue
			}
			if _, err := im.pools.CreateAllocation(ctx, &model.Allocation{PoolID: pool.ID, Address: addr}); err != nil {
				report.recordError(addr, err)
				continue
			}
			report.Imported++
		}

		zlog.Info().
			Str("pool", spec.Name).
			Int("addresses", len(addrs)).
			Msg("Imported IP pool")
	}
	return report, nil
}

// ImportProfiles reads /ppp/profile from the router and mirrors each entry
// locally, idempotent by profile name.
func (im *Importer) ImportProfiles(ctx context.Context, router *model.Router) (Report, error) {
	var report Report
	err := im.runner.WithRouter(ctx, router, func(api routeros.API) error {
		rows, err := api.GetRows(routeros.MenuPPPProfile, nil)
		if err != nil {
			return err
		}
		for _, row := range rows {
			profile := &model.Profile{
				RouterID:       router.ID,
				Name:           row["name"],
				LocalAddress:   row["local-address"],
				RemoteAddress:  row["remote-address"],
				RateLimit:      row["rate-limit"],
				SessionTimeout: row["session-timeout"],
				Disabled:       row["disabled"] == "true" || row["disabled"] == "yes",
			}
			created, err := im.profiles.UpsertProfile(ctx, profile)
			if err != nil {
				report.recordError(profile.Name, err)
				continue
			}
			if created {
				report.Imported++
			} else {
				report.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	zlog.Info().
		Str("router", router.Name).
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Msg("Imported PPP profiles")
	return report, nil
}

// ImportSecrets reads /ppp/secret from the router and creates a billing
// customer per secret. A second import for the same router on the same day
// is refused while one is still in progress; the whole operation is meant
// to run as a dispatched background job.
func (im *Importer) ImportSecrets(ctx context.Context, router *model.Router, opts SecretOptions) (Report, error) {
	var report Report

	day := time.Now().UTC().Format("2006-01-02")
	active, err := im.imports.ActiveImportExists(ctx, router.ID, "secrets", day)
	if err != nil {
		return report, err
	}
	if active {
		return report, utils.NewValidationError("import",
			fmt.Sprintf("secret import for router %s already in progress today", router.Name))
	}

	run := &store.ImportRun{RouterID: router.ID, Kind: "secrets", Day: day}
	if _, err := im.imports.CreateImportRun(ctx, run); err != nil {
		return report, err
	}

	err = im.runner.WithRouter(ctx, router, func(api routeros.API) error {
		filter := map[string]string{}
		if opts.FilterDisabled {
			filter["disabled"] = "no"
		}
		rows, err := api.GetRows(routeros.MenuPPPSecret, filter)
		if err != nil {
			return err
		}

		for i, row := range rows {
			im.importOneSecret(ctx, row, opts, &report)
			if (i+1)%progressFlushEvery == 0 {
				if err := im.imports.UpdateImportProgress(ctx, run.ID, i+1,
					report.Imported, report.Skipped, report.Failed); err != nil {
					return err
				}
				duallog.Progress().
					Str("router", router.Name).
					Int("processed", i+1).
					Int("total", len(rows)).
					Msg("Importing secrets")
			}
		}
		return im.imports.UpdateImportProgress(ctx, run.ID, len(rows),
			report.Imported, report.Skipped, report.Failed)
	})
	if err != nil {
		_ = im.imports.FinishImportRun(ctx, run.ID, "failed")
		return report, err
	}

	if err := im.imports.FinishImportRun(ctx, run.ID, "completed"); err != nil {
		return report, err
	}

	zlog.Info().
		Str("router", router.Name).
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Imported PPP secrets")
	return report, nil
}

func (im *Importer) importOneSecret(ctx context.Context, row routeros.Row, opts SecretOptions, report *Report) {
	username := row["name"]
	if username == "" {
		report.recordError(row.ID(), fmt.Errorf("secret has no name"))
		return
	}

	exists, err := im.customers.CustomerExists(ctx, username)
	if err != nil {
		report.recordError(username, err)
		return
	}
	if exists {
		report.Skipped++
		return
	}

	customer := customerFromSecret(row)
	if _, err := im.customers.CreateCustomer(ctx, customer); err != nil {
		report.recordError(username, err)
		return
	}
	report.Imported++

	if opts.GenerateBills && im.invoicer != nil && customer.Active() {
		if err := im.invoicer.GenerateInitialBill(ctx, customer); err != nil {
			// The customer is already imported; billing failure is reported
			// but does not undo the import.
			report.Errors = appendBounded(report.Errors, username+": initial bill: "+err.Error())
			zlog.Warn().
				Str("customer", username).
				Err(err).
				Msg("Failed to generate initial bill")
		}
	}
}

// customerFromSecret maps one /ppp/secret row to a billing customer.
func customerFromSecret(row routeros.Row) *model.Customer {
	status := model.StatusActive
	if row["disabled"] == "true" || row["disabled"] == "yes" {
		status = model.StatusSuspended
	}
	service := model.ServicePPPoE
	if strings.EqualFold(row["service"], string(model.ServiceHotspot)) {
		service = model.ServiceHotspot
	}
	return &model.Customer{
		Username: row["name"],
		Password: row["password"],
		Status:   status,
		Service:  service,
		Package:  model.Package{ProfileName: row["profile"]},
		StaticIP: row["remote-address"],
	}
}

func appendBounded(errs []string, msg string) []string {
	if len(errs) >= maxReportErrors {
		return errs
	}
	return append(errs, msg)
}
