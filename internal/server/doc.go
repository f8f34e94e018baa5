// Package server exposes the content tree to HTTP hosts.
//
// # Routing
//
// [BasicRouter] registers "METHOD /path" patterns on an [http.ServeMux] and remembers them for
// [BasicRouter.Routes]. Middleware added with Use runs in insertion order, so the first one
// added sees the request first. [Logging] and [Recover] are the stock middleware.
//
// # Host Surface
//
// [HostHandler] speaks the tree's pull protocol as JSON. Paths use the dotted form (`0.2.1`):
//
//   - GET  /api/children?path=P  child count and descriptors of P's children
//   - GET  /api/content?path=P   descriptor of P
//   - POST /api/load?path=P      loads P's children and waits for the result
//   - POST /api/play?path=P      starts playback of the item at P
//
// A [Handler] lists its own routes, so [BasicRouter.Handler] can mount it in one call.
package server
