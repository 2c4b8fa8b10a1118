// Package testutil holds test doubles for listeners and connections.
package testutil
