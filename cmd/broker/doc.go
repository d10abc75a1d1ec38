// Command broker runs the navigation arbitration broker: the privileged
// side of the cross-context protocol, plus the HTTP management API.
package main
