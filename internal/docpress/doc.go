// Package docpress defines the core domain types and capability contracts
// shared by the frontier, the slot scheduler, and the page processors.
package docpress
