package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nimda/radsync/internal/config"
	"github.com/nimda/radsync/internal/importer"
	"github.com/nimda/radsync/internal/migrate"
	"github.com/nimda/radsync/internal/model"
	"github.com/nimda/radsync/internal/netwatch"
	"github.com/nimda/radsync/internal/routeros"
	"github.com/nimda/radsync/internal/store"
	"github.com/nimda/radsync/internal/sync"
	"github.com/nimda/radsync/pkg/duallog"
)

var (
	debugMode bool
	traceMode bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "radsync",
	Short: "RADIUS/MikroTik synchronization and failover tool",
	Long: "Keeps MikroTik routers aligned with billing state: local PPP secret sync,\n" +
		"RADIUS health-failover probes, router imports, and pool migrations.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Dual logging: STDOUT carries the complete audit log, STDERR the
		// progress and success lines.
		cfg = config.Load()
		logLevel := cfg.LogLevel
		if traceMode {
			logLevel = zerolog.TraceLevel
		} else if debugMode {
			logLevel = zerolog.DebugLevel
		}
		duallog.Setup(logLevel)

		if cmd.Name() == "radsync" || cmd.Name() == "help" {
			return nil
		}
		if needsRouter(cmd) {
			host, _ := cmd.Flags().GetString("host")
			if host == "" {
				return fmt.Errorf("--host is required")
			}
		}
		return nil
	},
}

// needsRouter reports whether a leaf command talks to a router.
func needsRouter(cmd *cobra.Command) bool {
	switch cmd.Parent().Name() {
	case "netwatch", "sync", "radius":
		return true
	case "import":
		return cmd.Name() != "pools"
	}
	return false
}

var netwatchCmd = &cobra.Command{Use: "netwatch", Short: "Manage RADIUS health-failover probes"}
var syncCmd = &cobra.Command{Use: "sync", Short: "Synchronize billing customers to router secrets"}
var radiusCmd = &cobra.Command{Use: "radius", Short: "Inspect and switch router RADIUS state"}
var importCmd = &cobra.Command{Use: "import", Short: "Import router-side configuration into billing"}
var migrateCmd = &cobra.Command{Use: "migrate", Short: "Migrate allocations between IP pools"}

var netwatchConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Install the RADIUS health probe on a router",
	Run:   runNetwatchConfigure,
}

var netwatchRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the RADIUS health probe from a router",
	Run:   runNetwatchRemove,
}

var netwatchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the probe's live state as the router reports it",
	Run:   runNetwatchStatus,
}

var syncCustomerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Sync one customer's PPP secret",
	Run:   runSyncCustomer,
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Bulk-sync every stored customer onto a router",
	Run:   runSyncAll,
}

var syncRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Deprovision a customer's PPP secret",
	Run:   runSyncRemove,
}

var radiusSwitchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Manually switch PPP AAA between RADIUS and local secrets",
	Run:   runRadiusSwitch,
}

var radiusStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the router's RADIUS configuration and probe state",
	Run:   runRadiusStatus,
}

var radiusTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Ping the RADIUS server from the router",
	Run:   runRadiusTest,
}

var importPoolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "Import declared IP pool ranges",
	Run:   runImportPools,
}

var importProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Import PPP profiles from a router",
	Run:   runImportProfiles,
}

var importSecretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Import PPP secrets from a router as billing customers",
	Run:   runImportSecrets,
}

var migrateValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Pre-flight check a pool migration without mutating anything",
	Run:   runMigrateValidate,
}

var migrateStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a pool migration",
	Run:   runMigrateStart,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a migration job's progress",
	Run:   runMigrateStatus,
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Replay a migration job's journal in reverse",
	Run:   runMigrateRollback,
}

var migrateCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running migration job",
	Run:   runMigrateCancel,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&traceMode, "trace", false, "Enable trace logging")

	// Router connection flags. Credentials come from flags or env, never
	// from anything this tool persists.
	rootCmd.PersistentFlags().String("host", "", "Router IP address or hostname")
	rootCmd.PersistentFlags().Int("port", 0, "Router API port (default from RADSYNC_API_PORT)")
	rootCmd.PersistentFlags().String("user", "admin", "Router API username")
	rootCmd.PersistentFlags().String("pass", "", "Router API password (or RADSYNC_ROUTER_PASSWORD)")
	rootCmd.PersistentFlags().String("router-name", "", "Router display name for logs (defaults to host)")
	rootCmd.PersistentFlags().Int64("router-id", 0, "Billing id of the router")
	rootCmd.PersistentFlags().String("nas-server", "", "RADIUS server for this router's NAS record")
	rootCmd.PersistentFlags().String("auth", "radius", "Primary authenticator: radius or local")

	syncCustomerCmd.Flags().Int64("customer-id", 0, "Billing customer id")
	syncCustomerCmd.Flags().String("username", "", "Customer username")
	syncCustomerCmd.Flags().String("password", "", "Customer PPP password")
	syncCustomerCmd.Flags().String("profile", "", "ppp/profile name")
	syncCustomerCmd.Flags().String("rate", "", "Rate limit, e.g. 5M/2M")
	syncCustomerCmd.Flags().String("status", "active", "Customer status: active, suspended, churned")
	syncCustomerCmd.Flags().String("service", "pppoe", "Service: pppoe or hotspot")
	syncCustomerCmd.Flags().String("static-ip", "", "Static remote address, empty for pool-assigned")

	syncRemoveCmd.Flags().String("username", "", "Customer username")
	syncRemoveCmd.Flags().Bool("purge", false, "Delete the secret instead of disabling it")

	radiusSwitchCmd.Flags().String("to", "", "Target mode: radius or local")

	importPoolsCmd.Flags().String("name", "", "Pool name")
	importPoolsCmd.Flags().String("range", "", "Pool range: CIDR, a.b.c.X-Y, or comma list")
	importSecretsCmd.Flags().Bool("filter-disabled", false, "Skip disabled secrets")
	importSecretsCmd.Flags().Bool("generate-bills", false, "Generate an initial bill per imported active customer")

	migrateValidateCmd.Flags().Int64("old-pool", 0, "Source pool id")
	migrateValidateCmd.Flags().Int64("new-pool", 0, "Destination pool id")
	migrateValidateCmd.Flags().Int64("profile", 0, "Target profile id")
	migrateStartCmd.Flags().Int64("old-pool", 0, "Source pool id")
	migrateStartCmd.Flags().Int64("new-pool", 0, "Destination pool id")
	migrateStartCmd.Flags().Int64("profile", 0, "Target profile id")
	migrateStatusCmd.Flags().String("job", "", "Migration job id")
	migrateRollbackCmd.Flags().String("job", "", "Migration job id")
	migrateCancelCmd.Flags().String("job", "", "Migration job id")

	netwatchCmd.AddCommand(netwatchConfigureCmd, netwatchRemoveCmd, netwatchStatusCmd)
	syncCmd.AddCommand(syncCustomerCmd, syncAllCmd, syncRemoveCmd)
	radiusCmd.AddCommand(radiusSwitchCmd, radiusStatusCmd, radiusTestCmd)
	importCmd.AddCommand(importPoolsCmd, importProfilesCmd, importSecretsCmd)
	migrateCmd.AddCommand(migrateValidateCmd, migrateStartCmd, migrateStatusCmd, migrateRollbackCmd, migrateCancelCmd)

	rootCmd.AddCommand(netwatchCmd, syncCmd, radiusCmd, importCmd, migrateCmd)
}

// routerFromFlags assembles the transient router record for one operation.
func routerFromFlags(cmd *cobra.Command) *model.Router {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	user, _ := cmd.Flags().GetString("user")
	pass, _ := cmd.Flags().GetString("pass")
	name, _ := cmd.Flags().GetString("router-name")
	routerID, _ := cmd.Flags().GetInt64("router-id")
	nasServer, _ := cmd.Flags().GetString("nas-server")
	auth, _ := cmd.Flags().GetString("auth")

	if pass == "" {
		pass = os.Getenv("RADSYNC_ROUTER_PASSWORD")
	}
	if name == "" {
		name = host
	}

	router := &model.Router{
		ID:          routerID,
		Name:        name,
		Host:        host,
		APIPort:     port,
		Username:    user,
		Password:    pass,
		PrimaryAuth: model.AuthRadius,
	}
	if auth == string(model.AuthLocal) {
		router.PrimaryAuth = model.AuthLocal
	}
	if nasServer != "" {
		router.NAS = &model.NAS{Name: name, Server: nasServer}
	}
	return router
}

func connector() *routeros.Connector {
	return routeros.NewConnector(cfg.APIPort, cfg.APITimeout)
}

func configurator() *netwatch.Configurator {
	return netwatch.NewConfigurator(connector(), netwatch.Config{
		RadiusServer: cfg.RadiusServer,
		Interval:     cfg.NetwatchInterval,
		Timeout:      cfg.NetwatchTimeout,
	})
}

func openStore(ctx context.Context) *store.DB {
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
	}
	return db
}

func runNetwatchConfigure(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	if err := configurator().Configure(cmd.Context(), router); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to configure health probe")
	}
	duallog.Success().
		Str("router", router.Name).
		Msg("RADIUS health probe configured")
}

func runNetwatchRemove(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	if err := configurator().Remove(cmd.Context(), router); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to remove health probe")
	}
	duallog.Success().
		Str("router", router.Name).
		Msg("RADIUS health probe removed")
}

func runNetwatchStatus(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	status, err := configurator().GetStatus(cmd.Context(), router)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to read probe status")
	}
	if !status.Configured {
		duallog.Success().
			Str("router", router.Name).
			Str("host", status.Host).
			Msg("No health probe configured")
		return
	}
	duallog.Success().
		Str("router", router.Name).
		Str("host", status.Host).
		Str("state", status.State).
		Str("since", status.Since).
		Str("interval", status.Interval).
		Str("timeout", status.Timeout).
		Msg("Health probe status")
}

func customerFromFlags(cmd *cobra.Command) *model.Customer {
	id, _ := cmd.Flags().GetInt64("customer-id")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	profile, _ := cmd.Flags().GetString("profile")
	rate, _ := cmd.Flags().GetString("rate")
	status, _ := cmd.Flags().GetString("status")
	service, _ := cmd.Flags().GetString("service")
	staticIP, _ := cmd.Flags().GetString("static-ip")

	return &model.Customer{
		ID:       id,
		Username: username,
		Password: password,
		Status:   model.CustomerStatus(status),
		Service:  model.ServiceType(service),
		Package:  model.Package{ProfileName: profile, RateLimit: rate},
		StaticIP: staticIP,
	}
}

func runSyncCustomer(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	customer := customerFromFlags(cmd)

	syncer := sync.NewSyncer(connector(), cfg.PPPLocalAddress)
	result, err := syncer.SyncCustomer(cmd.Context(), customer, router)
	if err != nil {
		zlog.Fatal().Err(err).Str("customer", customer.Username).Msg("Sync failed")
	}
	duallog.Success().
		Str("customer", result.Username).
		Str("action", string(result.Action)).
		Msg("Customer synced")
}

func runSyncAll(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)

	db := openStore(cmd.Context())
	defer db.Close()

	customers, err := db.ListCustomers(cmd.Context())
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load customers")
	}
	refs := make([]*model.Customer, len(customers))
	for i := range customers {
		refs[i] = &customers[i]
	}

	syncer := sync.NewSyncer(connector(), cfg.PPPLocalAddress)
	report, err := syncer.SyncAll(cmd.Context(), refs, router)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Bulk sync aborted")
	}
	for _, e := range report.Errors {
		zlog.Error().Str("customer", e.Username).Err(e.Err).Msg("Customer failed")
	}
	duallog.Success().
		Int("total", report.Total).
		Int("synced", report.Synced).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Bulk sync finished")
}

func runSyncRemove(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	username, _ := cmd.Flags().GetString("username")
	purge, _ := cmd.Flags().GetBool("purge")

	syncer := sync.NewSyncer(connector(), cfg.PPPLocalAddress)
	result, err := syncer.Remove(cmd.Context(), &model.Customer{Username: username}, router, purge)
	if err != nil {
		zlog.Fatal().Err(err).Str("customer", username).Msg("Remove failed")
	}
	duallog.Success().
		Str("customer", username).
		Str("action", string(result.Action)).
		Msg("Customer deprovisioned")
}

func runRadiusSwitch(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	to, _ := cmd.Flags().GetString("to")

	c := configurator()
	var err error
	switch to {
	case "radius":
		err = c.SwitchToRadius(cmd.Context(), router)
	case "local":
		err = c.SwitchToLocal(cmd.Context(), router)
	default:
		zlog.Fatal().Str("to", to).Msg("--to must be radius or local")
	}
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to switch AAA mode")
	}
	duallog.Success().
		Str("router", router.Name).
		Str("mode", to).
		Msg("AAA mode switched")
}

func runRadiusStatus(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	view, err := configurator().RadiusStatus(cmd.Context(), router)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to read RADIUS status")
	}
	duallog.Success().
		Str("router", router.Name).
		Str("use-radius", strconv.FormatBool(view.UseRadius)).
		Str("servers", fmt.Sprintf("%v", view.RadiusServers)).
		Str("probe", view.Probe.State).
		Msg("RADIUS status")
}

func runRadiusTest(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	reachable, err := configurator().TestRadius(cmd.Context(), router)
	if err != nil {
		zlog.Fatal().Err(err).Msg("RADIUS reachability test failed")
	}
	duallog.Success().
		Str("router", router.Name).
		Str("reachable", strconv.FormatBool(reachable)).
		Msg("RADIUS reachability")
}

func newImporter(db *store.DB) *importer.Importer {
	return importer.New(connector(), db, db, db, db, nil)
}

func runImportPools(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	rangeSpec, _ := cmd.Flags().GetString("range")
	if name == "" || rangeSpec == "" {
		zlog.Fatal().Msg("--name and --range are required")
	}

	db := openStore(cmd.Context())
	defer db.Close()

	report, err := newImporter(db).ImportIPPools(cmd.Context(), []importer.PoolSpec{{Name: name, Range: rangeSpec}})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Pool import failed")
	}
	reportImport(report, "IP pool import finished")
}

func runImportProfiles(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)

	db := openStore(cmd.Context())
	defer db.Close()

	report, err := newImporter(db).ImportProfiles(cmd.Context(), router)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Profile import failed")
	}
	reportImport(report, "Profile import finished")
}

func runImportSecrets(cmd *cobra.Command, args []string) {
	router := routerFromFlags(cmd)
	filterDisabled, _ := cmd.Flags().GetBool("filter-disabled")
	generateBills, _ := cmd.Flags().GetBool("generate-bills")

	db := openStore(cmd.Context())
	defer db.Close()

	report, err := newImporter(db).ImportSecrets(cmd.Context(), router, importer.SecretOptions{
		FilterDisabled: filterDisabled,
		GenerateBills:  generateBills,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Secret import failed")
	}
	reportImport(report, "Secret import finished")
}

func reportImport(report importer.Report, msg string) {
	for _, e := range report.Errors {
		zlog.Error().Str("detail", e).Msg("Import error")
	}
	duallog.Success().
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg(msg)
}

func migrationFlags(cmd *cobra.Command) (int64, int64, int64) {
	oldPool, _ := cmd.Flags().GetInt64("old-pool")
	newPool, _ := cmd.Flags().GetInt64("new-pool")
	profile, _ := cmd.Flags().GetInt64("profile")
	return oldPool, newPool, profile
}

func runMigrateValidate(cmd *cobra.Command, args []string) {
	oldPool, newPool, profile := migrationFlags(cmd)

	db := openStore(cmd.Context())
	defer db.Close()

	validation, err := migrate.New(db, db, db).Validate(cmd.Context(), oldPool, newPool, profile)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Migration validation failed")
	}
	for _, warning := range validation.Warnings {
		zlog.Warn().Msg(warning)
	}
	duallog.Success().
		Int("allocations", validation.Allocations).
		Int("capacity", validation.Capacity).
		Msg("Migration is viable")
}

func runMigrateStart(cmd *cobra.Command, args []string) {
	oldPool, newPool, profile := migrationFlags(cmd)

	db := openStore(cmd.Context())
	defer db.Close()

	jobID, err := migrate.New(db, db, db).Start(cmd.Context(), oldPool, newPool, profile)
	if err != nil {
		zlog.Fatal().Err(err).Str("job", jobID).Msg("Migration failed")
	}
	duallog.Success().
		Str("job", jobID).
		Msg("Migration completed")
}

func jobFlag(cmd *cobra.Command) string {
	jobID, _ := cmd.Flags().GetString("job")
	if jobID == "" {
		zlog.Fatal().Msg("--job is required")
	}
	return jobID
}

func runMigrateStatus(cmd *cobra.Command, args []string) {
	db := openStore(cmd.Context())
	defer db.Close()

	progress, err := migrate.New(db, db, db).GetProgress(cmd.Context(), jobFlag(cmd))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to read job progress")
	}
	duallog.Success().
		Str("status", string(progress.Status)).
		Int("migrated", progress.Migrated).
		Int("total", progress.Total).
		Int("percent", progress.Percent).
		Msg("Migration progress")
}

func runMigrateRollback(cmd *cobra.Command, args []string) {
	db := openStore(cmd.Context())
	defer db.Close()

	result, err := migrate.New(db, db, db).Rollback(cmd.Context(), jobFlag(cmd))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Rollback failed")
	}
	duallog.Success().
		Int("restored", result.Restored).
		Int("failed", result.Failed).
		Msg("Rollback finished")
}

func runMigrateCancel(cmd *cobra.Command, args []string) {
	db := openStore(cmd.Context())
	defer db.Close()

	if err := migrate.New(db, db, db).Cancel(cmd.Context(), jobFlag(cmd)); err != nil {
		zlog.Fatal().Err(err).Msg("Cancel failed")
	}
	duallog.Success().
		Msg("Migration cancelled")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
