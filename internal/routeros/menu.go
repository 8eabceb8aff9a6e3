package routeros

import "fmt"

// Menu is the closed set of RouterOS subtrees this application manipulates.
// Keeping it an enum (instead of free-form path strings) catches typos at
// compile time and lets the facade validate writable fields per menu.
type Menu int

const (
	MenuPPPSecret Menu = iota
	MenuPPPProfile
	MenuPPPActive
	MenuIPPool
	MenuNetwatch
	MenuRadius
)

var menuPaths = map[Menu]string{
	MenuPPPSecret:  "/ppp/secret",
	MenuPPPProfile: "/ppp/profile",
	MenuPPPActive:  "/ppp/active",
	MenuIPPool:     "/ip/pool",
	MenuNetwatch:   "/tool/netwatch",
	MenuRadius:     "/radius",
}

// writableFields lists the fields the facade will accept on add/set per
// menu. Router-only fields (counters, status, since) are deliberately
// excluded so callers cannot clobber them.
var writableFields = map[Menu]map[string]bool{
	MenuPPPSecret: {
		"name": true, "password": true, "service": true, "profile": true,
		"local-address": true, "remote-address": true, "comment": true,
		"disabled": true,
	},
	MenuPPPProfile: {
		"name": true, "local-address": true, "remote-address": true,
		"rate-limit": true, "session-timeout": true, "idle-timeout": true,
		"only-one": true, "change-tcp-mss": true, "comment": true,
	},
	MenuPPPActive: {},
	MenuIPPool: {
		"name": true, "ranges": true, "next-pool": true, "comment": true,
	},
	MenuNetwatch: {
		"host": true, "interval": true, "timeout": true,
		"up-script": true, "down-script": true, "comment": true,
		"disabled": true,
	},
	MenuRadius: {
		"address": true, "secret": true, "service": true,
		"authentication-port": true, "accounting-port": true,
		"timeout": true, "comment": true, "disabled": true,
	},
}

// Path returns the API path of the menu, e.g. "/ppp/secret".
func (m Menu) Path() string {
	path, ok := menuPaths[m]
	if !ok {
		panic(fmt.Sprintf("routeros: unknown menu %d", int(m)))
	}
	return path
}

func (m Menu) String() string {
	return m.Path()
}

// Writable reports whether field may be written through this menu.
func (m Menu) Writable(field string) bool {
	fields, ok := writableFields[m]
	if !ok {
		return false
	}
	return fields[field]
}
