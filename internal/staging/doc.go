// Package staging maintains the local staging directory: it watches for new
// captures and removes partial files abandoned by interrupted captures.
package staging
