package proxy

import (
	"net/http"

	"github.com/corgi-proxy/corgi/internal/apierr"
	"github.com/corgi-proxy/corgi/internal/identity"
)

// resolveIdentity runs three-tier identity resolution for one request and
// translates a failed resolution (auth-required policy, no usable
// credential) into the stable auth_required error kind.
func resolveIdentity(resolver *identity.Resolver, r *http.Request, instance string, policy identity.EndpointAuthPolicy) (identity.Resolution, *apierr.Error) {
	res, ok := resolver.Resolve(r.Context(), r, instance, policy)
	if !ok {
		return identity.Resolution{}, apierr.New(apierr.KindAuthRequired, "a valid upstream credential is required for this endpoint")
	}
	return res, nil
}
