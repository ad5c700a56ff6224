// Package eventroutes implements administration of the system event
// route catalog.
//
// Routes live in the repository; every change rebuilds the routing
// catalog, publishes it to the in-process registry and archives a snapshot.
// Worker processes pick up changes by polling with Watch.
//
// Repository implementations live in repository/postgres/.
package eventroutes
