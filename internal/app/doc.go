// Package app provides the application service layer.
//
// Dispatcher turns inbound direct messages into command invocations, Messenger
// delivers replies one recipient at a time, and ACLService applies admin changes
// to the access-control store and persists a snapshot after each one.
// Depends on domain interfaces, not concrete adapters.
package app
