// Package access holds the access-control table for command senders.
//
// Known users carry an optional command whitelist; a separate global set names
// commands any sender may run when allow-all is enabled. Authorize turns a
// sender/command pair into an explicit Decision. Names are case-sensitive.
package access
