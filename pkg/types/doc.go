// Package types defines the object, collection, fact row and rebuild request
// types shared by the storage backend and the rebuild scheduler, together
// with the store interfaces and standard errors.
package types
