// Package realtime keeps a single WebSocket connection to the backend alive.
//
// A Manager runs one goroutine that owns the connection state. Callers,
// transport read pumps, timers and reconnect attempts all talk to it through
// its inbox, so state is never shared. Events from a connection that has
// since been replaced are recognised by their generation number and dropped.
//
// Reconnects happen after an accidental drop, when the app returns to the
// foreground and when the network comes back. They never happen after an
// intentional close (Disconnect, or the app entering the background).
package realtime
