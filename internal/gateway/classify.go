package gateway

import "strings"

// protocolVersion is the x402 wire revision selected for a request.
type protocolVersion int

const (
	versionNone protocolVersion = iota
	versionV1
	versionV2
)

const v2Suffix = "-v2"

// Wire x402Version tags carried in the V1 challenge body and the V2
// challenge header, respectively.
const (
	x402VersionV1 = 1
	x402VersionV2 = 2
)

// routeClass is the outcome of classifying an inbound path.
type routeClass int

const (
	classNotFound routeClass = iota
	classFree
	classProtected
)

// classification is the result of matching a request path against the
// configured free/protected route sets.
type classification struct {
	class        routeClass
	version      protocolVersion
	effectivePath string // path with any "-v2" suffix stripped
	usdcAmount   uint64
}

// classify matches requestPath against the gateway's free and
// protected sets. Matching is exact, never prefix/glob. A protected
// path P implicitly also exposes P-v2; the suffix selects V2 and the
// effective path used for proxying and resource URLs is the stripped
// base form.
func (g *Gateway) classify(requestPath string) classification {
	if g.freeSet[requestPath] {
		return classification{class: classFree, effectivePath: requestPath}
	}

	if route, ok := g.protectedByPath[requestPath]; ok {
		return classification{
			class:         classProtected,
			version:       versionV1,
			effectivePath: requestPath,
			usdcAmount:    route.USDCAmount,
		}
	}

	if strings.HasSuffix(requestPath, v2Suffix) {
		base := strings.TrimSuffix(requestPath, v2Suffix)
		if route, ok := g.protectedByPath[base]; ok {
			return classification{
				class:         classProtected,
				version:       versionV2,
				effectivePath: base,
				usdcAmount:    route.USDCAmount,
			}
		}
	}

	return classification{class: classNotFound}
}
