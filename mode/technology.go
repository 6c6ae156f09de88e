package mode

import "strings"

// AccessTechnology is a bitmask of radio access technologies the device is
// currently using.
type AccessTechnology uint32

const (
	TechUnknown AccessTechnology = 0
	TechGSM     AccessTechnology = 1 << (iota - 1)
	TechGPRS
	TechEDGE
	TechUMTS
	TechHSDPA
	TechHSUPA
	TechHSPA
	TechHSPAPlus
	TechLTE
	Tech5GNR
)

var techNames = []struct {
	tech AccessTechnology
	name string
}{
	{TechGSM, "gsm"},
	{TechGPRS, "gprs"},
	{TechEDGE, "edge"},
	{TechUMTS, "umts"},
	{TechHSDPA, "hsdpa"},
	{TechHSUPA, "hsupa"},
	{TechHSPA, "hspa"},
	{TechHSPAPlus, "hspa+"},
	{TechLTE, "lte"},
	{Tech5GNR, "5gnr"},
}

func (t AccessTechnology) String() string {
	if t == TechUnknown {
		return "unknown"
	}
	var parts []string
	for _, n := range techNames {
		if t&n.tech != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}

func (t AccessTechnology) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
