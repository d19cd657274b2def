// Package device holds the platform-neutral data model of a BLE central:
// peripheral addresses, advertised properties and their merge rules,
// GATT characteristics, lifecycle events and the error taxonomy shared by
// every backend.
//
// Everything in this package is a plain value type. Synchronisation is the
// responsibility of the owner (see internal/central).
package device
