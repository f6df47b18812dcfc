package httpx

import (
	"github.com/labstack/echo/v4"
)

// Router registers routes on a prefixed group that shares middleware.
type Router struct {
	group *echo.Group
}

func (r *Router) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	r.group.GET(path, h, mw...)
	return r
}

func (r *Router) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	r.group.POST(path, h, mw...)
	return r
}

func (r *Router) DELETE(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	r.group.DELETE(path, h, mw...)
	return r
}
