// Package chat keeps the client-side state of a circle chat room.
//
// A Room subscribes to its connection's events and maintains the message
// history, online users, typing users, connection state and the last
// error. Outbound chat_message, typing and stop_typing frames are sent
// through the connection registry.
package chat
