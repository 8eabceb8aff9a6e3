package model

import "net/netip"

// PrimaryAuth identifies which authenticator is authoritative for a router.
type PrimaryAuth string

const (
	// AuthRadius means the central RADIUS server authenticates sessions;
	// local PPP secrets are only a fallback managed by the netwatch scripts.
	AuthRadius PrimaryAuth = "radius"
	// AuthLocal means router-local PPP secrets are authoritative.
	AuthLocal PrimaryAuth = "local"
)

// ServiceType is the PPP service a customer is provisioned for.
type ServiceType string

const (
	ServicePPPoE   ServiceType = "pppoe"
	ServiceHotspot ServiceType = "hotspot"
)

// CustomerStatus mirrors the billing system's view of a customer account.
type CustomerStatus string

const (
	StatusActive    CustomerStatus = "active"
	StatusSuspended CustomerStatus = "suspended"
	StatusChurned   CustomerStatus = "churned"
)

// NAS is the RADIUS-client-facing identity of a router.
type NAS struct {
	ID     int64
	Name   string
	Server string // RADIUS server address this NAS authenticates against
	Secret string
}

// Router holds the connection details and auth mode of one MikroTik device.
// Credentials are read from the billing datastore at the start of each
// operation and never cached beyond one connect/operate/disconnect cycle.
type Router struct {
	ID          int64
	Name        string
	Host        string
	APIPort     int
	Username    string
	Password    string
	PrimaryAuth PrimaryAuth
	NAS         *NAS
}

// Package is the rate/queue template a customer is billed for.
type Package struct {
	ID          int64
	Name        string
	ProfileName string // ppp/profile name on the router
	RateLimit   string // MikroTik form, e.g. "5M/2M" (rx/tx)
}

// Customer is the billing system's customer record, reduced to the fields
// the router-side provisioning needs.
type Customer struct {
	ID       int64
	Username string
	Password string
	Status   CustomerStatus
	Service  ServiceType
	Package  Package
	StaticIP string // optional; empty means pool-assigned
}

// Active reports whether the customer should be able to authenticate.
func (c Customer) Active() bool {
	return c.Status == StatusActive
}

// Profile is a locally-known ppp/profile record, typically imported from a
// router or created by billing.
type Profile struct {
	ID             int64
	RouterID       int64
	Name           string
	LocalAddress   string
	RemoteAddress  string
	RateLimit      string
	SessionTimeout string
	Disabled       bool
}

// IPPool is an address pool customers are allocated from.
type IPPool struct {
	ID      int64
	Name    string
	StartIP string
	EndIP   string
}

// Capacity returns the number of addresses in the pool's inclusive range,
// or 0 when the bounds do not parse or are inverted.
func (p IPPool) Capacity() int {
	start, err := netip.ParseAddr(p.StartIP)
	if err != nil || !start.Is4() {
		return 0
	}
	end, err := netip.ParseAddr(p.EndIP)
	if err != nil || !end.Is4() {
		return 0
	}
	if end.Less(start) {
		return 0
	}
	s := start.As4()
	e := end.As4()
	return int(ipToUint32(e)-ipToUint32(s)) + 1
}

func ipToUint32(ip [4]byte) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

// Allocation binds one address to a customer within a pool.
type Allocation struct {
	ID        int64
	PoolID    int64
	ProfileID int64
	Username  string
	Address   string
}
