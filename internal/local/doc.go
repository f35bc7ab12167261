// Package local is the local-first entity store for Players and Games.
//
// Every mutation succeeds against local storage first, appends an entry to
// the operation log, and then notifies mutation listeners. Nothing here
// waits on the network: the sync engine mirrors the log to the remote
// service on its own schedule.
//
// Persisted keys:
//
//	dodgeball.players  []entity.Player, in insertion order
//	dodgeball.games    []entity.Game, newest first
//
// A malformed document reads as an empty collection.
package local
