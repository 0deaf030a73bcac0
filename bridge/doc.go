// Package bridge resolves USB vendor/product pairs to the USB-to-serial bridge
// chip sitting between the host and an ESP device, and to the highest baud
// rate that bridge carries reliably.
//
// The lookup data is static and versioned with the package. Resolution never
// fails: an unknown vendor is reported through the boolean result, and a known
// vendor with an unknown product yields an Info with only the vendor populated.
// Callers pick a transmission rate with [Info.SafeBaudRate].
package bridge
