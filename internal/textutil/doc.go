// Package textutil normalises user-supplied text for use in file names.
package textutil
