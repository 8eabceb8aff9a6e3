package importer

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/nimda/radsync/pkg/utils"
)

// maxRangeSize guards against accidentally expanding something like a /8
// into memory. No ISP pool in this system legitimately needs more.
const maxRangeSize = 65536

// ExpandRange turns a pool range declaration into individual IPv4
// addresses. Accepted forms, combinable with commas:
//
//	10.9.0.0/24            CIDR, network and broadcast excluded
//	10.9.0.10-20           last-octet range, inclusive
//	10.9.0.10-10.9.0.250   full range, inclusive
//	10.9.0.5               single address
func ExpandRange(spec string) ([]string, error) {
	var addrs []string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		expanded, err := expandOne(part)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, expanded...)
		if len(addrs) > maxRangeSize {
			return nil, utils.NewValidationError("range",
				fmt.Sprintf("%q expands to more than %d addresses", spec, maxRangeSize))
		}
	}
	if len(addrs) == 0 {
		return nil, utils.NewValidationError("range", "no addresses in "+strconv.Quote(spec))
	}
	return addrs, nil
}

func expandOne(part string) ([]string, error) {
	switch {
	case strings.Contains(part, "/"):
		return expandCIDR(part)
	case strings.Contains(part, "-"):
		return expandHyphen(part)
	}
	addr, err := netip.ParseAddr(part)
	if err != nil || !addr.Is4() {
		return nil, utils.NewValidationError("range", part+" is not an IPv4 address")
	}
	return []string{addr.String()}, nil
}

func expandCIDR(part string) ([]string, error) {
	prefix, err := netip.ParsePrefix(part)
	if err != nil || !prefix.Addr().Is4() {
		return nil, utils.NewValidationError("range", part+" is not an IPv4 CIDR block")
	}
	prefix = prefix.Masked()

	if prefix.Bits() >= 31 {
		// Too small to hold the network/broadcast convention; take it as-is.
		var addrs []string
		for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
			addrs = append(addrs, addr.String())
		}
		return addrs, nil
	}

	var addrs []string
	for addr := prefix.Addr().Next(); prefix.Contains(addr.Next()); addr = addr.Next() {
		addrs = append(addrs, addr.String())
		if len(addrs) > maxRangeSize {
			return nil, utils.NewValidationError("range",
				fmt.Sprintf("%s expands to more than %d addresses", part, maxRangeSize))
		}
	}
	return addrs, nil
}

func expandHyphen(part string) ([]string, error) {
	bounds := strings.SplitN(part, "-", 2)
	start, err := netip.ParseAddr(strings.TrimSpace(bounds[0]))
	if err != nil || !start.Is4() {
		return nil, utils.NewValidationError("range", part+": bad range start")
	}

	endSpec := strings.TrimSpace(bounds[1])
	end, err := netip.ParseAddr(endSpec)
	if err != nil {
		// Last-octet shorthand: 10.9.0.10-20.
		octet, convErr := strconv.Atoi(endSpec)
		if convErr != nil || octet < 0 || octet > 255 {
			return nil, utils.NewValidationError("range", part+": bad range end")
		}
		prefix := start.As4()
		prefix[3] = byte(octet)
		end = netip.AddrFrom4(prefix)
	}
	if !end.Is4() || end.Less(start) {
		return nil, utils.NewValidationError("range", part+": range end precedes start")
	}

	var addrs []string
	for addr := start; !end.Less(addr); addr = addr.Next() {
		addrs = append(addrs, addr.String())
		if len(addrs) > maxRangeSize {
			return nil, utils.NewValidationError("range",
				fmt.Sprintf("%s expands to more than %d addresses", part, maxRangeSize))
		}
	}
	return addrs, nil
}
