package gateway

import "net/http"

// corsMiddleware mirrors the permissive CORS policy of the reference
// implementation: any origin, any method, any header. The gateway
// fronts a payment-gated API meant to be called from arbitrary
// browser clients, so origin restriction belongs to the backend, not
// the proxy in front of it.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "X-Signature, X-PAYMENT-RESPONSE, payment-response, payment-required")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
