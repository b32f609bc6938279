// Package naming provides consistent names for the cloud resources and run
// store objects shipyard manages.
//
// Resources that belong to a server are named {server}-{type}, so teardown
// can find them again from the server spec alone.
package naming
