package shield

import "net/http"

// HeadAsGet serves HEAD as GET on the listed paths and rejects it with 405
// everywhere else. HEAD /snap would otherwise run a whole capture for a
// response without a body.
func HeadAsGet(paths ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(paths))
	for _, p := range paths {
		allowed[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed[r.URL.Path] {
				w.Header().Set("Allow", "GET")
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			r.Method = http.MethodGet
			next.ServeHTTP(w, r)
		})
	}
}
