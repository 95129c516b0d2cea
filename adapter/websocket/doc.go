// Package websocket is the client-facing ingress for xrelay. Handler upgrades
// each request with gorilla/websocket, registers the connection with a relay
// and keeps it alive with ping/pong until either side closes it. Clients only
// receive; anything they send is read and dropped.
//
//	http.Handle("/socks", websocket.NewHandler(relay, websocket.HandlerConfig{}))
package websocket
