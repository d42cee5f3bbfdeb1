// Package device resolves C-Bus group addresses to descriptors.
//
// Descriptors carry what the hub needs to present a group: a name, a
// kind (light, fan, switch, ...), dimmability and an optional area.
// Configured entries are merged with named templates at startup;
// groups that report on the bus without configuration are discovered
// at runtime as dimmable lights until an operator says otherwise.
//
// The Prober offers an intrusive, operator-invoked dimmability check
// for discovered groups.
package device
