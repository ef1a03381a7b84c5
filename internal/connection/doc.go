// Package connection implements the Connection Registry and Reconnect Scheduler.
//
// The Connection Registry:
//   - Tracks named logical connections (e.g. "/circle/42/chat/"), one transport each
//   - Runs the disconnected/connecting/connected/closing state machine
//   - Queues outbound frames while disconnected (bounded, oldest dropped)
//   - Schedules reconnects with exponential backoff after abnormal closure
//   - Hands every lifecycle and message event to the Event Router
//
// Transports are injected through the Dialer interface; WSDialer is the
// gorilla/websocket implementation.
package connection
