// Command podbridged runs the podbridge daemon and provides the CLI
// that talks to it over the local HTTP API.
package main
