// Package manager keeps the set of live deployment units. It loads and
// unloads unit versions, serializes operations on one (name, version) pair
// and records every lifecycle change in the unit history.
package manager
