// Package gateway is the real-time WebSocket delivery surface.
//
// Clients connect to a namespace (default "/"), send an "authenticate" frame
// carrying their user id and are joined to the room "user:<id>". Server code
// then targets them with EmitToRoom, a whole namespace with Emit, or a single
// connection with EmitToClient. Payloads go through the compression codec and
// travel as {data, metadata} envelopes, data being base64 in JSON.
//
// Frames are JSON text messages shaped as {"event": "...", "data": ...}.
//
//	gw := gateway.New(
//		gateway.WithCodec(codec),
//		gateway.WithPresence(cacheProvider, 5*time.Minute),
//	)
//	mux.Handle("/ws", gw)
//
//	gw.EmitToRoom(ctx, gateway.DefaultNamespace, gateway.UserRoom("u1"), gateway.EventNotification, n)
//
// Each connection owns a bounded send buffer drained by a write pump. A client
// that cannot keep up is disconnected instead of blocking emitters. Presence is
// written to the cache under "presence:<userId>" on a best-effort basis: cache
// failures are logged and never fail the handshake or the disconnect.
package gateway
