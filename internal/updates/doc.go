// Package updates pushes moderation state changes to connected browser
// clients.
//
// Every connection is classified into scopes when it is accepted: global for
// any signed-in user, system for administrators and user:<id> for the
// connection's own user. A connection first receives one snapshot per scope
// and afterwards every ChangeEvent published to one of its scopes, in publish
// order. Slow or broken connections are evicted without affecting the rest.
package updates
