// Package routing resolves the delivery route configured for a system event
// and decides what happens after each send attempt.
//
// Rules for this package:
//   - Router holds no per-notification state. Everything a decision needs is
//     passed in as a DeliveryState and a new state is returned.
//   - A Catalog is immutable once built. Admin edits build a new Catalog and
//     publish it through a Registry.
//   - Drop actions are terminal and always carry a reason and a cause error.
//   - No I/O. Rate limiting and sending live in the dispatch package.
package routing
