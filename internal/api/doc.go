// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. Generation runs are streamed to the client as
// server-sent events; the other endpoints are plain JSON.
package api
