// Package catalog keeps the list of resources known to the publisher and
// the collections they belong to.
//
// Storm persists records in a bbolt file, Memory keeps them in process and
// is used by tests and one-shot CLI runs.
package catalog
