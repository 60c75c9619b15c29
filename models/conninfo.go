package models

// ConnInfo describes how to reach a running worker. It is the JSON
// object the worker writes over the handshake pipe, e.g.
// {"host": "localhost", "port": 51820, "token": "..."}. The supervisor
// does not interpret the keys, it only transports and persists them.
type ConnInfo map[string]any
