// Package progress fans pipeline progress events out to registered
// observers. Delivery is synchronous per event, subscriber counts are
// bounded, and an observer that fails or panics is dropped without
// affecting the others.
package progress
