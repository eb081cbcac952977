package zonefile

import (
	"bytes"
	"fmt"

	"github.com/miekg/dns"

	"jabberwocky238/bindzone/internal/types"
)

// CheckResult summarises a zone that passed Check.
type CheckResult struct {
	Records int
	HasSOA  bool
	Serial  uint32
}

// Check runs the full master-file grammar over data, the way
// named-checkzone would before a reload. $INCLUDE is refused. A zone with
// records but no SOA at its apex fails.
func Check(data []byte, origin, filename string) (*CheckResult, error) {
	zp := dns.NewZoneParser(bytes.NewReader(data), dns.Fqdn(origin), filename)
	zp.SetIncludeAllowed(false)

	res := &CheckResult{}
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		res.Records++
		if soa, isSOA := rr.(*dns.SOA); isSOA && !res.HasSOA {
			res.HasSOA = true
			res.Serial = soa.Serial
		}
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrZoneCheckFailed, filename, err)
	}
	if res.Records > 0 && !res.HasSOA {
		return nil, fmt.Errorf("%w: %s: no SOA record", types.ErrZoneCheckFailed, filename)
	}
	return res, nil
}
