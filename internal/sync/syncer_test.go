package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimda/radsync/internal/model"
	"github.com/nimda/radsync/internal/routeros"
	"github.com/nimda/radsync/internal/testutil"
	"github.com/nimda/radsync/pkg/utils"
)

func activeCustomer(username string) *model.Customer {
	return &model.Customer{
		ID:       42,
		Username: username,
		Password: "pw-" + username,
		Status:   model.StatusActive,
		Service:  model.ServicePPPoE,
		Package: model.Package{
			ID:          7,
			Name:        "Basic 10M",
			ProfileName: "basic-10M",
			RateLimit:   "10M/5M",
		},
	}
}

func localRouter() *model.Router {
	router := testutil.Router("edge-1", "10.1.1.1")
	router.PrimaryAuth = model.AuthLocal
	return router
}

func okAdd(n int) routeros.AddResult {
	return routeros.AddResult{Total: n, Succeeded: n}
}

// expectProfileExists stubs the ensure-profile lookup as already satisfied.
func expectProfileExists(api *testutil.MockAPI, name string) {
	api.On("GetRows", routeros.MenuPPPProfile, map[string]string{"name": name}).
		Return([]routeros.Row{{".id": "*P1", "name": name}}, nil)
}

func TestBuildSecretSpec(t *testing.T) {
	customer := activeCustomer("alice")
	customer.StaticIP = "10.9.0.15"

	spec, err := BuildSecretSpec(customer, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "alice", spec["name"])
	assert.Equal(t, "pw-alice", spec["password"])
	assert.Equal(t, "pppoe", spec["service"])
	assert.Equal(t, "basic-10M", spec["profile"])
	assert.Equal(t, "no", spec["disabled"])
	assert.Equal(t, "10.0.0.1", spec["local-address"])
	assert.Equal(t, "10.9.0.15", spec["remote-address"])
	assert.Equal(t, "customer_id:42,status:active", spec["comment"])
}

func TestBuildSecretSpecSuspended(t *testing.T) {
	customer := activeCustomer("bob")
	customer.Status = model.StatusSuspended

	spec, err := BuildSecretSpec(customer, "")
	require.NoError(t, err)
	assert.Equal(t, "yes", spec["disabled"])
	assert.NotContains(t, spec, "local-address")
	assert.NotContains(t, spec, "remote-address")
}

func TestBuildSecretSpecValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Customer)
		field  string
	}{
		{"empty username", func(c *model.Customer) { c.Username = "" }, "username"},
		{"missing profile", func(c *model.Customer) { c.Package.ProfileName = "" }, "profile"},
		{"garbage rate", func(c *model.Customer) { c.Package.RateLimit = "fast/faster" }, "rate_limit"},
		{"half a rate", func(c *model.Customer) { c.Package.RateLimit = "10M" }, "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			customer := activeCustomer("alice")
			tt.mutate(customer)

			_, err := BuildSecretSpec(customer, "")
			var valErr *utils.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}
}

func TestRadiusPrimaryShortCircuit(t *testing.T) {
	router := testutil.Router("core-1", "10.1.1.1") // RADIUS-primary by default
	runner := &testutil.StubRunner{}                // any dial would panic on nil API

	syncer := NewSyncer(runner, "")
	result, err := syncer.SyncCustomer(context.Background(), activeCustomer("alice"), router)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, result.Action)
	assert.Zero(t, runner.Sessions, "guard must short-circuit before any router I/O")

	report, err := syncer.SyncAll(context.Background(), []*model.Customer{activeCustomer("a"), activeCustomer("b")}, router)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, runner.Sessions)
}

func TestSyncCreatesMissingSecret(t *testing.T) {
	api := &testutil.MockAPI{}
	expectProfileExists(api, "basic-10M")
	api.On("GetRows", routeros.MenuPPPSecret, map[string]string{"name": "alice"}).
		Return([]routeros.Row{}, nil)
	api.On("AddRows", routeros.MenuPPPSecret, mock.Anything).Return(okAdd(1), nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "10.0.0.1")
	result, err := syncer.SyncCustomer(context.Background(), activeCustomer("alice"), localRouter())
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, result.Action)
	api.AssertExpectations(t)
}

func TestSyncSuspendSendsOnlyChangedFields(t *testing.T) {
	// Existing row matches the customer except for disabled state; the edit
	// must carry only that field.
	customer := activeCustomer("alice")
	customer.Status = model.StatusSuspended

	existing := routeros.Row{
		".id":           "*1F",
		"name":          "alice",
		"password":      "pw-alice",
		"service":       "pppoe",
		"profile":       "basic-10M",
		"local-address": "10.0.0.1",
		"comment":       "customer_id:42,status:suspended",
		"disabled":      "no",
	}

	api := &testutil.MockAPI{}
	expectProfileExists(api, "basic-10M")
	api.On("GetRows", routeros.MenuPPPSecret, map[string]string{"name": "alice"}).
		Return([]routeros.Row{existing}, nil)
	api.On("EditRow", routeros.MenuPPPSecret, existing, map[string]string{"disabled": "yes"}).
		Return(nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "10.0.0.1")
	result, err := syncer.SyncCustomer(context.Background(), customer, localRouter())
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, result.Action)
	api.AssertExpectations(t)
}

func TestSyncIdempotentSecondRun(t *testing.T) {
	customer := activeCustomer("alice")

	existing := routeros.Row{
		".id":           "*1F",
		"name":          "alice",
		"password":      "pw-alice",
		"service":       "pppoe",
		"profile":       "basic-10M",
		"local-address": "10.0.0.1",
		"comment":       "customer_id:42,status:active",
		"disabled":      "no",
	}

	api := &testutil.MockAPI{}
	expectProfileExists(api, "basic-10M")
	api.On("GetRows", routeros.MenuPPPSecret, map[string]string{"name": "alice"}).
		Return([]routeros.Row{existing}, nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "10.0.0.1")
	result, err := syncer.SyncCustomer(context.Background(), customer, localRouter())
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, result.Action)

	// No AddRows/EditRow expectations were registered, so any write would
	// have failed the mock.
	api.AssertExpectations(t)
}

func TestSyncCreatesMissingProfileFirst(t *testing.T) {
	api := &testutil.MockAPI{}
	api.On("GetRows", routeros.MenuPPPProfile, map[string]string{"name": "basic-10M"}).
		Return([]routeros.Row{}, nil)
	api.On("AddRows", routeros.MenuPPPProfile, []routeros.Row{{
		"name":          "basic-10M",
		"rate-limit":    "10M/5M",
		"local-address": "10.0.0.1",
	}}).Return(okAdd(1), nil)
	api.On("GetRows", routeros.MenuPPPSecret, map[string]string{"name": "alice"}).
		Return([]routeros.Row{}, nil)
	api.On("AddRows", routeros.MenuPPPSecret, mock.Anything).Return(okAdd(1), nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "10.0.0.1")
	_, err := syncer.SyncCustomer(context.Background(), activeCustomer("alice"), localRouter())
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestSyncAllPartialFailureIsolation(t *testing.T) {
	// Five customers, two with unparseable rates: the run must finish and
	// report succeeded=3, failed=2.
	customers := []*model.Customer{
		activeCustomer("a1"), activeCustomer("bad1"),
		activeCustomer("a2"), activeCustomer("bad2"),
		activeCustomer("a3"),
	}
	customers[1].Package.RateLimit = "broken"
	customers[3].Package.RateLimit = "also broken"

	api := &testutil.MockAPI{}
	expectProfileExists(api, "basic-10M")
	api.On("GetRows", routeros.MenuPPPSecret, mock.Anything).Return([]routeros.Row{}, nil)
	api.On("AddRows", routeros.MenuPPPSecret, mock.Anything).Return(okAdd(1), nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "")
	report, err := syncer.SyncAll(context.Background(), customers, localRouter())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 3, report.Synced)
	assert.Equal(t, 2, report.Failed)
	assert.Len(t, report.Errors, 2)
}

func TestSyncAllConnectionFailureAborts(t *testing.T) {
	customers := []*model.Customer{
		activeCustomer("a1"), activeCustomer("a2"), activeCustomer("a3"),
	}

	connDown := routeros.NewConnectionError("10.1.1.1:8728", errors.New("i/o timeout"))
	api := &testutil.MockAPI{}
	api.On("GetRows", routeros.MenuPPPProfile, mock.Anything).Return(nil, connDown)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "")
	report, err := syncer.SyncAll(context.Background(), customers, localRouter())
	require.Error(t, err)
	assert.True(t, routeros.IsConnectionError(err))
	assert.Equal(t, 0, report.Synced, "no row operation can succeed without a session")
	api.AssertNumberOfCalls(t, "GetRows", 1)
}

func TestSyncAllErrorListCapped(t *testing.T) {
	var customers []*model.Customer
	for i := 0; i < 15; i++ {
		c := activeCustomer("bad")
		c.Package.RateLimit = "nope"
		customers = append(customers, c)
	}

	syncer := NewSyncer(&testutil.StubRunner{API: &testutil.MockAPI{}}, "")
	report, err := syncer.SyncAll(context.Background(), customers, localRouter())
	require.NoError(t, err)
	assert.Equal(t, 15, report.Failed, "count stays exact")
	assert.Len(t, report.Errors, 10, "error list is bounded")
}

func TestRemoveIdempotent(t *testing.T) {
	api := &testutil.MockAPI{}
	api.On("GetRows", routeros.MenuPPPSecret, map[string]string{"name": "ghost"}).
		Return([]routeros.Row{}, nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "")
	result, err := syncer.Remove(context.Background(), activeCustomer("ghost"), localRouter(), true)
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, result.Action)
}

func TestRemovePurges(t *testing.T) {
	rows := []routeros.Row{{".id": "*1F", "name": "alice"}}
	api := &testutil.MockAPI{}
	api.On("GetRows", routeros.MenuPPPSecret, map[string]string{"name": "alice"}).
		Return(rows, nil)
	api.On("RemoveRows", routeros.MenuPPPSecret, rows).Return(nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "")
	result, err := syncer.Remove(context.Background(), activeCustomer("alice"), localRouter(), true)
	require.NoError(t, err)
	assert.Equal(t, ActionRemoved, result.Action)
	api.AssertExpectations(t)
}

func TestRemoveSoftDisable(t *testing.T) {
	row := routeros.Row{".id": "*1F", "name": "alice", "disabled": "no"}
	api := &testutil.MockAPI{}
	api.On("GetRows", routeros.MenuPPPSecret, map[string]string{"name": "alice"}).
		Return([]routeros.Row{row}, nil)
	api.On("EditRow", routeros.MenuPPPSecret, row, map[string]string{"disabled": "yes"}).
		Return(nil)

	syncer := NewSyncer(&testutil.StubRunner{API: api}, "")
	result, err := syncer.Remove(context.Background(), activeCustomer("alice"), localRouter(), false)
	require.NoError(t, err)
	assert.Equal(t, ActionDisabled, result.Action)
	api.AssertExpectations(t)
}
