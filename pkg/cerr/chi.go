package cerr

import (
	"context"
	"net/http"
)

// outcome carries a handler's result back to the middleware that
// installed it on the request context.
type outcome struct {
	response any
	err      error
}

type outcomeKey struct{}

func outcomeFromContext(ctx context.Context) *outcome {
	o, _ := ctx.Value(outcomeKey{}).(*outcome)
	return o
}

// SetJSONResponse stores the success body for the middleware to render.
func SetJSONResponse(ctx context.Context, response any) {
	if o := outcomeFromContext(ctx); o != nil {
		o.response = response
	}
}

// SetJSONError stores the error for the middleware to render. The last
// call wins.
func SetJSONError(ctx context.Context, err error) {
	if o := outcomeFromContext(ctx); o != nil {
		o.err = err
	}
}

func SetNewJSONError(ctx context.Context, code Code, msg string, err error) {
	SetJSONError(ctx, NewError(code, msg, err))
}

// NewJSONResponseChiMiddleware installs an outcome slot on the request
// context. Handlers report their result via SetJSONResponse / SetJSONError
// and the middleware renders the JSON body or error envelope once the
// handler returns.
func NewJSONResponseChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			o := &outcome{}
			ctx := context.WithValue(r.Context(), outcomeKey{}, o)
			next.ServeHTTP(rw, r.WithContext(ctx))
			ExtractToHTTPResponse(ctx, rw, o)
		})
	}
}
