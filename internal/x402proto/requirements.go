package x402proto

import (
	"fmt"

	"github.com/oysterprotocol/x402-gateway/internal/network"
)

// DefaultMaxTimeoutSeconds is the configured default for every
// advertised requirement's maxTimeoutSeconds field.
const DefaultMaxTimeoutSeconds = 300

// BuildRequirements produces the ordered list of payment requirements
// advertised for one protected route, one entry per configured
// network, in configuration order. resourceURL is the absolute URL of
// the original requested path, with any "-v2" suffix already
// stripped.
func BuildRequirements(reg *network.Registry, usdcAmount uint64, resourceURL, description string) []PaymentRequirement {
	all := reg.All()
	out := make([]PaymentRequirement, 0, len(all))

	for _, d := range all {
		req := PaymentRequirement{
			Scheme:            "exact",
			Network:           d.NetworkID,
			MaxAmountRequired: fmt.Sprintf("%d", usdcAmount),
			PayTo:             d.PaymentAddress,
			Resource:          resourceURL,
			Description:       description,
			MimeType:          "application/json",
			MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
			Asset:             d.AssetAddress,
		}

		extra := map[string]interface{}{"decimals": d.Decimals}
		if d.Family == network.FamilyEVM {
			extra["name"] = d.EIP712.Name
			extra["version"] = d.EIP712.Version
		}
		req.Extra = extra

		out = append(out, req)
	}

	return out
}

// FindRequirement returns the requirement in reqs whose network
// matches networkID, used to select the single requirement a payment
// artifact claims to satisfy.
func FindRequirement(reqs []PaymentRequirement, networkID string) (*PaymentRequirement, bool) {
	for i := range reqs {
		if reqs[i].Network == networkID {
			return &reqs[i], true
		}
	}
	return nil, false
}
