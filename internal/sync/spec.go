package sync

import (
	"fmt"
	"regexp"

	"github.com/nimda/radsync/internal/model"
	"github.com/nimda/radsync/internal/routeros"
	"github.com/nimda/radsync/pkg/utils"
)

// rateLimitPattern accepts RouterOS rx/tx rate pairs like "5M/2M",
// "512k/256k" or "10000000/5000000".
var rateLimitPattern = regexp.MustCompile(`^[0-9]+[kKmMgG]?/[0-9]+[kKmMgG]?$`)

// BuildSecretSpec derives the desired PPP secret row from the customer's
// current billing state. Computed fresh on every sync so package and status
// changes propagate immediately.
func BuildSecretSpec(customer *model.Customer, localAddress string) (routeros.Row, error) {
	if customer.Username == "" {
		return nil, utils.NewValidationError("username", "must not be empty")
	}
	if customer.Package.ProfileName == "" {
		return nil, utils.NewValidationError("profile", "package has no profile name")
	}
	if customer.Package.RateLimit != "" && !rateLimitPattern.MatchString(customer.Package.RateLimit) {
		return nil, utils.NewValidationError("rate_limit",
			fmt.Sprintf("%q is not a valid rx/tx rate pair", customer.Package.RateLimit))
	}

	spec := routeros.Row{
		"name":     customer.Username,
		"password": customer.Password,
		"service":  string(customer.Service),
		"profile":  customer.Package.ProfileName,
		"comment":  SecretComment(customer),
		"disabled": boolWord(!customer.Active()),
	}
	if localAddress != "" {
		spec["local-address"] = localAddress
	}
	if customer.StaticIP != "" {
		spec["remote-address"] = customer.StaticIP
	}
	return spec, nil
}

// SecretComment tags a secret with its billing back-reference so router-side
// rows can be traced to customers.
func SecretComment(customer *model.Customer) string {
	return fmt.Sprintf("customer_id:%d,status:%s", customer.ID, customer.Status)
}

// diffSecret returns the desired fields whose values differ from the row the
// router currently holds. Fields the router never reported count as changed.
func diffSecret(existing routeros.Row, spec routeros.Row) map[string]string {
	changes := make(map[string]string)
	for field, want := range spec {
		if existing[field] != want {
			changes[field] = want
		}
	}
	return changes
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
