// Package chat is the client side of the /ws/chat protocol.
//
// A Session owns one Transport (a reconnecting websocket), a Store holding
// the ordered conversation, and a Router that applies inbound frames to the
// store. Everything that mutates the store runs on the session's event loop,
// so the store needs no locking. Rendering is delegated to a Renderer.
//
// Inbound frames:
//
//	{"type":"thinking","id":7}
//	{"type":"assistant_message","id":7,"content":"...","metadata":{"query_time":1.2,"tools_used":["query_federal_register"]}}
//	{"type":"suggestions","suggestions":["..."]}
//
// Outbound frames:
//
//	{"type":"user_message","content":"...","id":7}
package chat
