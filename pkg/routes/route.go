// Package routes defines declarative HTTP route groups registered onto a ServeMux.
package routes

import "net/http"

// Route binds one API operation to its handler via an HTTP method and a
// Go 1.22 ServeMux pattern (e.g. GET /{id}/history).
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}
